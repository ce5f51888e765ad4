package explore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var addrCmd = &cobra.Command{
	Use:     "addr <address>...",
	Short:   "symbolize addresses",
	Aliases: []string{"a", "symbolize"},
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupLookup,
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return fmt.Errorf("need at least one address")
		}
		addrs := make([]uint64, 0, len(args))
		for _, arg := range args {
			addr, err := strconv.ParseUint(strings.TrimPrefix(arg, "0x"), 16, 64)
			if err != nil {
				return fmt.Errorf("invalid address %q", arg)
			}
			addrs = append(addrs, addr)
		}

		results, err := CurrentSession.Symbolizer.Symbolize(CurrentSession.Sources, addrs)
		if err != nil {
			return err
		}
		for i, frames := range results {
			if len(frames) == 0 {
				fmt.Printf("%#x: not found\n", addrs[i])
				continue
			}
			for _, frame := range frames {
				name := frame.Symbol
				if name == "" {
					name = "??"
				}
				fmt.Printf("%#x: %s @ %#x", addrs[i], name, frame.StartAddress)
				if frame.SourceFile != "" {
					fmt.Printf(" %s:%d", frame.SourceFile, frame.Line)
				}
				fmt.Println()
			}
		}
		return nil
	},
}

func init() {
	exploreRootCmd.AddCommand(addrCmd)
}
