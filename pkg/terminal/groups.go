package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	runCmds
	dataCmds
	codeCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Running the program", runCmds},
	{"Viewing registers and memory", dataCmds},
	{"Viewing code", codeCmds},
	{"Other commands", otherCmds},
}
