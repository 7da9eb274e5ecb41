// Copyright 2021-2023
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/penny-vault/pv-optimal/optimizer"
)

func init() {
	rootCmd.AddCommand(objectivesCmd)
}

var objectivesCmd = &cobra.Command{
	Use:   "objectives",
	Short: "List the available objectives and their parameters",
	RunE: func(cmd *cobra.Command, args []string) error {
		descs, err := optimizer.Descriptors()
		if err != nil {
			return err
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Shortcode", "Objective", "Name", "Arguments"})
		table.SetBorder(false)
		table.SetAutoWrapText(false)
		for _, desc := range descs {
			args := make([]string, 0, len(desc.Arguments))
			for key, arg := range desc.Arguments {
				args = append(args, fmt.Sprintf("%s=%s", key, arg.Default))
			}
			sort.Strings(args)
			table.Append([]string{desc.Shortcode, desc.Objective.String(), desc.Name, strings.Join(args, " ")})
		}
		table.Render()
		return nil
	},
}
