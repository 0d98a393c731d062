// reciprocity-casd serves a content store over gRPC so the ingestion
// pipeline on other hosts can reach a shared backend.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"

	"google.golang.org/grpc"

	"ubec.eco/reciprocity/config"
	"ubec.eco/reciprocity/contentstore"
	"ubec.eco/reciprocity/contentstore/grpccas"
	"ubec.eco/reciprocity/contentstore/localfs"
)

func main() {
	fs := flag.NewFlagSet("reciprocity-casd", flag.ExitOnError)
	listen := fs.String("listen", "127.0.0.1:7777", "listen address")
	dir := fs.String("dir", "", "localfs backend root directory")
	configPath := fs.String("config", "", "serve the config file's content store chain instead of --dir")
	_ = fs.Parse(os.Args[1:])

	var (
		cas     contentstore.CAS
		closeFn func() error
		err     error
	)
	switch {
	case *configPath != "":
		cfg, loadErr := config.LoadFile(*configPath)
		if loadErr != nil {
			fmt.Fprintln(os.Stderr, loadErr)
			os.Exit(2)
		}
		cas, closeFn, err = cfg.OpenContentStore()
		if err == nil && cas == nil {
			err = fmt.Errorf("config %s has no content store backends", *configPath)
		}
	case *dir != "":
		cas, err = localfs.New(*dir)
	default:
		err = fmt.Errorf("either --dir or --config is required")
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if closeFn != nil {
		defer func() { _ = closeFn() }()
	}

	lis, err := net.Listen("tcp", *listen)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer lis.Close()

	s := grpc.NewServer()
	grpccas.RegisterCASServer(s, grpccas.NewServer(cas))

	fmt.Fprintf(os.Stderr, "reciprocity-casd listening on %s\n", lis.Addr().String())
	if err := s.Serve(lis); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
