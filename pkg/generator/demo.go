package generator

import (
	_ "embed"
)

//go:embed demo.yaml
var demoFixtures []byte

// DemoRequests are the prompts used by the demonstration run.
var DemoRequests = []string{
	"Create a cleanup script for old files",
	"Write a backup script for user data",
	"Generate a safe file listing script",
}

// Demo returns a Replay that imitates a model which first answers with an
// unsafe script and produces a corrected one once given feedback.
func Demo() *Replay {
	r, err := ParseReplay(demoFixtures)
	if err != nil {
		panic("generator: invalid embedded demo fixtures: " + err.Error())
	}
	return r
}
