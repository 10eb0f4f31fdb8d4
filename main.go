package main

import (
	"os"

	p4meshcli "github.com/p4mesh/p4mesh/cli"
)

func main() {
	err := p4meshcli.Entrypoint().Run(os.Args)
	if err != nil {
		panic(err)
	}
}
