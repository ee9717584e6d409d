package console

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/amtrelay/internal/event"
	"github.com/srg/amtrelay/internal/stack"
	"github.com/srg/amtrelay/internal/throughput"
	"github.com/srg/amtrelay/pkg/config"
)

// newRoot builds a fresh command tree. Cobra keeps flag state on commands, so
// every line gets its own tree.
func (c *Console) newRoot(ctx context.Context) *cobra.Command {
	root := &cobra.Command{
		Use:           "amt",
		Short:         "ATT MTU throughput relay console",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetOut(c.out)
	root.SetErr(c.out)
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(
		&cobra.Command{
			Use:   "config",
			Short: "Print the current test parameters",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				c.printConfig(cmd.OutOrStdout())
				return nil
			},
		},
		&cobra.Command{
			Use:   "mtu <bytes>",
			Short: fmt.Sprintf("Set the ATT MTU (%d-%d)", config.MinATTMTU, config.MaxATTMTU),
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := parseUint16(args[0])
				if err != nil {
					return fmt.Errorf("invalid MTU: %w", err)
				}
				if err := c.store.SetATTMTU(v); err != nil {
					return err
				}
				c.done(cmd, "ATT MTU set to %d", v)
				return nil
			},
		},
		&cobra.Command{
			Use:   "interval <units>",
			Short: "Set the connection interval in 1.25 ms units",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := parseUint16(args[0])
				if err != nil {
					return fmt.Errorf("invalid interval: %w", err)
				}
				if err := c.store.SetConnInterval(v); err != nil {
					return err
				}
				c.done(cmd, "Connection interval set to %d units (%s)", v, stack.IntervalDuration(v))
				return nil
			},
		},
		&cobra.Command{
			Use:   "phy <1m,2m,coded,auto>",
			Short: "Set the preferred PHY set",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				phys, err := stack.ParsePHYSet(args[0])
				if err != nil {
					return err
				}
				c.store.SetPHYs(phys)
				c.done(cmd, "Preferred PHY set to %s", phys)
				return nil
			},
		},
		c.toggleCmd("dle", "data length extension", c.store.SetDataLenExt),
		c.toggleCmd("cle", "connection event length extension", c.store.SetConnEvtLenExt),
		&cobra.Command{
			Use:   "role <master|slave|relay>",
			Short: "Select the board role",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				role, err := config.ParseBoardRole(args[0])
				if err != nil {
					return err
				}
				c.store.SetRole(role)
				c.done(cmd, "Board role set to %s", role)
				return nil
			},
		},
		c.dispatchCmd(ctx, event.CmdRun, "run", "Start advertising or scanning for the board role"),
		c.dispatchCmd(ctx, event.CmdTerminate, "terminate", "Disconnect all links and end the test"),
		c.dispatchCmd(ctx, event.CmdStop, "stop", "Stop the throughput stream and print the result"),
		c.dispatchCmd(ctx, event.CmdStatus, "status", "Print the relay state as JSON"),
		c.dispatchCmd(ctx, event.CmdHistory, "history", "Print recent test results"),
	)
	return root
}

func (c *Console) toggleCmd(name, what string, set func(bool)) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <on|off>",
		Short: "Enable or disable " + what,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := parseOnOff(args[0])
			if err != nil {
				return err
			}
			set(on)
			c.done(cmd, "%s %s", strings.ToUpper(name), onOff(on))
			return nil
		},
	}
}

func (c *Console) dispatchCmd(ctx context.Context, kind event.CommandKind, use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := c.send(ctx, kind)
			if err != nil {
				return err
			}
			return c.printReply(cmd.OutOrStdout(), kind, v)
		},
	}
}

func (c *Console) printReply(w io.Writer, kind event.CommandKind, v any) error {
	switch val := v.(type) {
	case nil:
		c.ok.Fprintf(w, "%s: ok\n", kind)
	case throughput.Result:
		fmt.Fprintln(w, val.String())
	case []throughput.Result:
		if len(val) == 0 {
			fmt.Fprintln(w, "no results")
		}
		for _, r := range val {
			fmt.Fprintln(w, r.String())
		}
	default:
		b, err := json.MarshalIndent(val, "", "  ")
		if err != nil {
			return fmt.Errorf("%s: encode reply: %w", kind, err)
		}
		fmt.Fprintln(w, string(b))
	}
	return nil
}

func (c *Console) printConfig(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for pair := c.store.Summary().Oldest(); pair != nil; pair = pair.Next() {
		fmt.Fprintf(tw, "%s:\t%s\n", c.key.Sprint(pair.Key), pair.Value)
	}
	_ = tw.Flush()
}

func (c *Console) done(cmd *cobra.Command, format string, args ...any) {
	c.ok.Fprintf(cmd.OutOrStdout(), format+"\n", args...)
}

func parseUint16(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "1", "true", "enable":
		return true, nil
	case "off", "0", "false", "disable":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", s)
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
