package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/refbundle/refbundle/cli"
	"github.com/refbundle/refbundle/common/errors"
	"github.com/refbundle/refbundle/common/log/hooks"
)

func main() {
	log.AddHook(hooks.NewContextHook())
	log.SetLevel(log.InfoLevel)

	cmd := cli.MakeCLI()
	if err := cmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(int(errors.CodeOf(err)))
	}
}
