package main

import (
	basecmd "github.com/SAWassermann/DisNETPerf/cmd"
	"github.com/SAWassermann/DisNETPerf/finder/cmd"
)

func main() {
	basecmd.Run(&cmd.PsboxCmd{}, "psbox", "Find the RIPE Atlas probe closest to each target")
}
