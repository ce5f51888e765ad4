package explore

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "show symbolizer cache statistics",
	Annotations: map[string]string{
		cmdGroupAnnotation: cmdGroupInfo,
	},
	Run: func(cmd *cobra.Command, args []string) {
		stats := CurrentSession.Symbolizer.Stats()
		fmt.Printf("objects: %d\n", stats.Objects)
		fmt.Printf("cache hits: %d\n", stats.CacheHits)
		fmt.Printf("cache misses: %d\n", stats.CacheMisses)
	},
}

func init() {
	exploreRootCmd.AddCommand(statsCmd)
}
