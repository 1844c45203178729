// mktar packs category folders into one tar archive per split.
//
//	mktar -o train_images_1.tar.gz ds/train/011k07 ds/train/015x4r
//	mktar -o images_1.tar.gz -split-root ds 011k07 015x4r
//	mktar -list train_images_1.tar.gz
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/tsawler/go-datapipe/archive"
	"github.com/tsawler/go-datapipe/vision/dataset"
)

var (
	flagOut       = flag.String("o", "", "Output archive (.tar, .tar.gz, .tgz or .tar.xz).")
	flagSidecars  = flag.Bool("sidecars", false, "Add a <stem>.json category record next to every image without one.")
	flagSplitRoot = flag.String("split-root", "", "If set, arguments are category names and train_<out>/val_<out> are built from <split-root>/{train,val}/<category>.")
	flagList      = flag.Bool("list", false, "List the entries of the archives given as arguments.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *flagList {
		for _, path := range flag.Args() {
			must.M(list(os.Stdout, path))
		}
		return
	}

	if *flagOut == "" || flag.NArg() == 0 {
		klog.Fatalf("usage: mktar -o out.tar.gz [-sidecars] [-split-root dir] folder...")
	}
	var opts []archive.Option
	if *flagSidecars {
		opts = append(opts, archive.WithSidecars())
	}

	if *flagSplitRoot == "" {
		must.M(archive.NewImageFolder(flag.Args(), opts...).ToTar(*flagOut))
		klog.Infof("wrote %s", *flagOut)
		return
	}

	dir, name := filepath.Split(*flagOut)
	for _, split := range dataset.Phases {
		folders := make([]string, 0, flag.NArg())
		for _, category := range flag.Args() {
			folders = append(folders, filepath.Join(*flagSplitRoot, string(split), category))
		}
		out := filepath.Join(dir, string(split)+"_"+name)
		must.M(archive.NewImageFolder(folders, opts...).ToTar(out))
		klog.Infof("wrote %s", out)
	}
}

func list(w io.Writer, path string) error {
	r, err := archive.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()
	for {
		name, err := r.Skip()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\n", path, name)
	}
}
