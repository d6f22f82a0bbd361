// Copyright Reclaim the Stack and/or licensed to Reclaim the Stack under one
// or more contributor license agreements. Licensed under the Apache License
// 2.0; you may not use this file except in compliance with the License.

package main

import (
	"github.com/spf13/cobra"

	"github.com/reclaim-the-stack/opensearch-operator/cmd/manager"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "opensearch-operator",
		Short:        "Kubernetes operator for OpenSearch clusters",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(manager.Command())

	_ = rootCmd.Execute()
}
