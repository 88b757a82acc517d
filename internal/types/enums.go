package types

type SourceType string

const (
	SourceTypeNative SourceType = "native"
	SourceTypePip    SourceType = "pip"
	SourceTypeApt    SourceType = "apt"
)

type Verb string

const (
	VerbList      Verb = "list"
	VerbSearch    Verb = "search"
	VerbInstall   Verb = "install"
	VerbUpgrade   Verb = "upgrade"
	VerbUninstall Verb = "uninstall"
)

type CommandType string

const (
	CommandInstall   CommandType = "install"
	CommandUpgrade   CommandType = "upgrade"
	CommandUninstall CommandType = "uninstall"
)
