package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"voxelstream.ai/internal/config"
	"voxelstream.ai/internal/persistence/chunkstore"
	"voxelstream.ai/internal/svo"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		case "verify":
			verifyCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints how many chunk files exist per cap and resolution.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	configPath := fs.String("config", "./configs/streamer.yaml", "path to streamer.yaml")
	_ = fs.Parse(args)

	store := openStore(*configPath)
	type bucket struct{ cap, res uint32 }
	counts := map[bucket]int{}
	err := store.Walk(func(k chunkstore.Key, _ string) error {
		counts[bucket{k.Cap, k.Resolution}]++
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "walk:", err)
		os.Exit(1)
	}
	keys := make([]bucket, 0, len(counts))
	for b := range counts {
		keys = append(keys, b)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].cap != keys[j].cap {
			return keys[i].cap < keys[j].cap
		}
		return keys[i].res > keys[j].res
	})
	fmt.Println(store.Root())
	for _, b := range keys {
		fmt.Printf("cap=%d resolution=%d chunks=%d\n", b.cap, b.res, counts[b])
	}
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "print JSON")
	_ = fs.Parse(args)
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: admin inspect [-json] <chunk.svo>...")
		os.Exit(2)
	}
	code := 0
	for _, path := range fs.Args() {
		r, err := inspect(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			code = 1
			continue
		}
		if *asJSON {
			printJSON(r)
		} else {
			fmt.Printf("%s: nodes=%d far_values=%d %s\n", path, r.Nodes, r.FarValues, r.Tree)
		}
	}
	os.Exit(code)
}

type inspection struct {
	Path      string        `json:"path"`
	Nodes     uint32        `json:"nodes"`
	FarValues int           `json:"far_values"`
	Tree      svo.TreeStats `json:"tree"`
}

func inspect(path string) (inspection, error) {
	flat, err := chunkstore.ReadFile(path)
	if err != nil {
		return inspection{}, err
	}
	r := inspection{Path: path, Nodes: flat.NodeCount, FarValues: len(flat.FarValues)}
	if flat.Empty() {
		return r, nil
	}
	root, err := svo.Decode(flat.Nodes, flat.FarValues, 0)
	if err != nil {
		return r, err
	}
	r.Tree = svo.Stats(root)
	return r, nil
}

// verifyCmd decodes every chunk file under the scene and reports the ones
// that fail to parse or decode.
func verifyCmd(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	configPath := fs.String("config", "./configs/streamer.yaml", "path to streamer.yaml")
	_ = fs.Parse(args)

	store := openStore(*configPath)
	var ok, bad int
	err := store.Walk(func(k chunkstore.Key, path string) error {
		r, err := inspect(path)
		if err == nil && r.Nodes > 0 && r.Tree.Nodes != int(r.Nodes) {
			err = fmt.Errorf("header says %d nodes, decoded %d", r.Nodes, r.Tree.Nodes)
		}
		if err != nil {
			bad++
			fmt.Printf("BAD %s %s: %v\n", k, path, err)
			return nil
		}
		ok++
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "walk:", err)
		os.Exit(1)
	}
	fmt.Printf("verified ok=%d bad=%d\n", ok, bad)
	if bad > 0 {
		os.Exit(1)
	}
}

func openStore(configPath string) *chunkstore.Store {
	cfg, err := config.Load(strings.TrimSpace(configPath))
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	g := cfg.LODGrid()
	return chunkstore.New(cfg.Scene.Dir, g.Size, g.ThreeD())
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
