package explore

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/ThinkerYzu1/blazesym/pkg/blazesym"
)

const (
	cmdGroupAnnotation = "cmd_group_annotation"

	cmdGroupLookup = "1-lookup"
	cmdGroupInfo   = "2-info"
	cmdGroupOthers = "3-other"
	cmdGroupCobra  = "other"

	cmdGroupDelimiter = "-"

	prefix    = "blazesym> "
	descShort = "blazesym interactive exploration commands"
)

var exploreRootCmd = &cobra.Command{
	Use:   "help [command]",
	Short: descShort,
}

var (
	CurrentSession *Session
)

// Session is an interactive exploration session over a fixed set of
// symbol sources.
type Session struct {
	done   chan bool
	prefix string
	root   *cobra.Command
	liner  *liner.State
	last   string

	Symbolizer *blazesym.Symbolizer
	Sources    []blazesym.SymSrc
	// ElfPath is set when the session was started against a single ELF
	// file; the disass command needs the raw bytes.
	ElfPath string
	// LoadAddress of ElfPath.
	LoadAddress uint64

	defers []func()
}

// NewSession creates the interactive session around a configured
// symbolizer.
func NewSession(symbolizer *blazesym.Symbolizer, srcs []blazesym.SymSrc) *Session {
	fn := func(cmd *cobra.Command, args []string) {
		fmt.Println(cmd.Short)
		fmt.Println()

		fmt.Println(cmd.Use)
		fmt.Println(cmd.Flags().FlagUsages())

		usage := helpMessageByGroups(cmd)
		fmt.Println(usage)
	}
	exploreRootCmd.SetHelpFunc(fn)

	return &Session{
		done:       make(chan bool),
		prefix:     prefix,
		root:       exploreRootCmd,
		liner:      liner.NewLiner(),
		last:       "",
		Symbolizer: symbolizer,
		Sources:    srcs,
	}
}

func (s *Session) Start() {
	s.liner.SetCompleter(completer)
	s.liner.SetTabCompletionStyle(liner.TabPrints)

	defer func() {
		for idx := len(s.defers) - 1; idx >= 0; idx-- {
			s.defers[idx]()
		}
	}()

	for {
		select {
		case <-s.done:
			s.liner.Close()
			return
		default:
		}

		txt, err := s.liner.Prompt(s.prefix)
		if err != nil {
			fmt.Println(err)
			s.liner.Close()
			return
		}

		txt = strings.TrimSpace(txt)
		if len(txt) != 0 {
			s.last = txt
			s.liner.AppendHistory(txt)
		} else {
			txt = s.last
		}

		s.root.SetArgs(strings.Split(txt, " "))
		s.root.Execute()
	}
}

func (s *Session) AtExit(fn func()) *Session {
	s.defers = append(s.defers, fn)
	return s
}

func (s *Session) Stop() {
	close(s.done)
}

func completer(line string) []string {
	cmds := []string{}
	for _, c := range exploreRootCmd.Commands() {
		// complete cmd
		if strings.HasPrefix(c.Use, line) {
			cmds = append(cmds, strings.Split(c.Use, " ")[0])
		}
		// complete cmd's aliases
		for _, alias := range c.Aliases {
			if strings.HasPrefix(alias, line) {
				cmds = append(cmds, alias)
			}
		}
	}
	return cmds
}

// helpMessageByGroups groups the commands and renders one help block
// per group.
func helpMessageByGroups(cmd *cobra.Command) string {
	// key:group, val:sorted commands in same group
	groups := map[string][]string{}
	for _, c := range cmd.Commands() {
		// commands without a group go to the other group
		var groupName string
		v, ok := c.Annotations[cmdGroupAnnotation]
		if !ok {
			groupName = "other"
		} else {
			groupName = v
		}

		groupCmds := groups[groupName]
		groupCmds = append(groupCmds, fmt.Sprintf("  %-16s:%s", c.Name(), c.Short))
		sort.Strings(groupCmds)

		groups[groupName] = groupCmds
	}

	if len(groups[cmdGroupCobra]) != 0 {
		groups[cmdGroupOthers] = append(groups[cmdGroupOthers], groups[cmdGroupCobra]...)
	}
	delete(groups, cmdGroupCobra)

	groupNames := []string{}
	for k := range groups {
		groupNames = append(groupNames, k)
	}
	sort.Strings(groupNames)

	buf := bytes.Buffer{}
	for _, groupName := range groupNames {
		commands := groups[groupName]

		group := strings.Split(groupName, cmdGroupDelimiter)[1]
		buf.WriteString(fmt.Sprintf("- [%s]\n", group))

		for _, cmd := range commands {
			buf.WriteString(fmt.Sprintf("%s\n", cmd))
		}
		buf.WriteString("\n")
	}
	return buf.String()
}
