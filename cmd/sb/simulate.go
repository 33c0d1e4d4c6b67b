package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/alert"
	"github.com/zulandar/signalbox/internal/logging"
	"github.com/zulandar/signalbox/internal/session"
	"github.com/zulandar/signalbox/internal/ussd"
	"golang.org/x/term"
)

func newSimulateCmd() *cobra.Command {
	var (
		configPath string
		phone      string
		sessionID  string
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Dial the USSD menu from the terminal",
		Long: `Runs one USSD dialogue against the sandbox ledger without a carrier.

Each input line is sent the way a carrier would, with earlier inputs
joined by "*". The dialogue stops at the first END reply or end of input.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd, configPath, phone, sessionID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Signalbox config file")
	cmd.Flags().StringVar(&phone, "phone", "+256700000001", "caller phone number")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (default: random)")
	return cmd
}

func runSimulate(cmd *cobra.Command, configPath, phone, sessionID string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logging.Configure(logging.Config{Level: "warn", Output: cmd.ErrOrStderr()})

	sb, _, err := openSandbox(cfg)
	if err != nil {
		return err
	}
	store := session.NewMemoryStore(session.MemoryOpts{IdleTimeout: cfg.Session.IdleTimeout, Lang: cfg.USSD.Language})
	engine, _, err := newEngine(cfg, sb, store, alert.Nop{}, logging.WithComponent("ussd"))
	if err != nil {
		return err
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	in := cmd.InOrStdin()
	out := cmd.OutOrStdout()
	interactive := isTerminal(in)
	if interactive {
		fmt.Fprintf(out, "Dialing %s as %s (session %s)\n\n", cfg.USSD.ServiceCode, phone, sessionID)
	}

	var inputs []string
	scanner := bufio.NewScanner(in)
	for {
		reply := engine.HandleRequest(cmd.Context(), ussd.Request{
			SessionID:   sessionID,
			Phone:       phone,
			Text:        strings.Join(inputs, "*"),
			ServiceCode: cfg.USSD.ServiceCode,
		})
		msg, ended := splitReply(reply)
		fmt.Fprintln(out, msg)
		if ended {
			return nil
		}
		if interactive {
			fmt.Fprint(out, "> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		inputs = append(inputs, strings.TrimSpace(scanner.Text()))
	}
}

// splitReply strips the CON/END prefix and reports whether the dialogue
// ended.
func splitReply(reply string) (string, bool) {
	if msg, ok := strings.CutPrefix(reply, "END "); ok {
		return msg, true
	}
	return strings.TrimPrefix(reply, "CON "), false
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
