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

package main

import (
	"fmt"
	"os"

	"github.com/maruel/subcommands"
)

type cmdRunValidate struct {
	subcommands.CommandRunBase

	path string
}

var subcommandValidate = subcommands.Command{
	UsageLine: "validate -config <path>",
	ShortDesc: "Validates a configuration file and prints it back.",
	CommandRun: func() subcommands.CommandRun {
		var cmd cmdRunValidate

		cmd.Flags.StringVar(&cmd.path, "config", "", "Path to the YAML configuration.")

		return &cmd
	},
}

func (cmd *cmdRunValidate) Run(baseApp subcommands.Application, args []string, _ subcommands.Env) int {
	c := getApplication(baseApp)

	cfg, err := loadConfig(cmd.path)
	if err != nil {
		renderErr(c, err)
		return 1
	}
	fmt.Fprint(os.Stdout, cfg.String())
	return 0
}
