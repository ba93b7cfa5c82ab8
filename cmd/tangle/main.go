// Command tangle dumps the content of a tangle for debugging.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/viant/tangle"
	"github.com/viant/tangle/codec"
)

func main() {
	base := flag.String("base", "", "tangle base directory")
	name := flag.String("name", "tangle", "stream name prefix")
	limit := flag.Int("limit", 0, "max entries to dump; 0 dumps all")
	verbose := flag.Bool("v", false, "verbose engine logging")
	flag.Parse()
	if *base == "" {
		flag.Usage()
		os.Exit(2)
	}

	log := logrus.New()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	ctx := context.Background()
	store, err := tangle.Open(ctx, *base, codec.Bytes{},
		tangle.WithName(*name),
		tangle.WithLogger(log))
	if err != nil {
		log.Fatalf("open %v: %v", *base, err)
	}
	defer store.Close()

	fmt.Printf("count=%d version=%d wasted=%d nodes=%d\n",
		store.Count(), store.Version(), store.WastedDataBytes(), store.NodeCount())

	dumped := 0
	fut := store.ForEach(func(key tangle.Key, value interface{}) error {
		if *limit > 0 && dumped >= *limit {
			return nil
		}
		data := value.([]byte)
		preview := data
		if len(preview) > 32 {
			preview = preview[:32]
		}
		fmt.Printf("%-6v %-24v len=%-8d %x\n", key.Type(), key, len(data), preview)
		dumped++
		return nil
	})
	if _, err := fut.Wait(ctx); err != nil {
		log.Fatalf("dump: %v", err)
	}
}
