package cmd

import (
	"context"
	"fmt"

	"go.ntppool.org/common/version"
)

type versionCmd struct{}

func (cmd *versionCmd) Run(ctx context.Context) error {
	fmt.Printf("psbox %s\n", version.Version())
	return nil
}
