// Copyright 2024 The LUCI Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main implements a tool that validates change log configuration and
// drives synthetic load through the write path.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/errors"
	log "go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/logging/gologger"

	"go.chromium.org/changelog/config"
)

func getApplication(base subcommands.Application) context.Context {
	return base.(*cli.Application).Context(context.Background())
}

func mainImpl(c context.Context, args []string) int {
	c = gologger.StdConfig.Use(c)

	logConfig := log.Config{
		Level: log.Info,
	}

	app := cli.Application{
		Name:  "changelog_load",
		Title: "Change log write path load tool",
		Context: func(c context.Context) context.Context {
			return logConfig.Set(gologger.StdConfig.Use(c))
		},

		Commands: []*subcommands.Command{
			subcommands.CmdHelp,

			&subcommandValidate,
			&subcommandRun,
		},
	}

	fs := flag.NewFlagSet("flags", flag.ExitOnError)
	logConfig.AddFlags(fs)
	fs.Parse(args)

	return subcommands.Run(&app, fs.Args())
}

func main() {
	os.Exit(mainImpl(context.Background(), os.Args[1:]))
}

// loadConfig loads the file named by the -config flag.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return nil, errors.New("missing required argument (-config)")
	}
	return config.Load(path)
}

func renderErr(c context.Context, err error) {
	log.Errorf(c, "Error encountered during operation: %s\n%s", err,
		errors.RenderStack(err))
}
