package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/go-caffe2/predictor/cmd"
)

func main() {
	cobra.CheckErr(cmd.NewCLI().ExecuteContext(context.Background()))
}
