package uninstaller

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"pkgkeeper/internal/types"
)

const (
	packageLocationToken = "{PACKAGE_LOCATION}"
	logLocationToken     = "{LOG_LOCATION}"
)

// installer describes how one installer family is uninstalled silently
// and which exit codes count as success. logSwitch takes the log file path
// as its only verb.
type installer struct {
	kind           types.InstallerType
	silentArgs     string
	logSwitch      string
	logFile        string
	validExitCodes []int
}

var (
	msiInstaller = installer{
		kind:           types.InstallerTypeMsi,
		silentArgs:     "/qn /norestart",
		logSwitch:      `/l*v "%s"`,
		logFile:        "MsiUninstall.log",
		validExitCodes: []int{0, 1605, 1614, 1641, 3010},
	}
	innoSetupInstaller = installer{
		kind:           types.InstallerTypeInnoSetup,
		silentArgs:     "/VERYSILENT /SUPPRESSMSGBOXES /NORESTART /SP-",
		logSwitch:      `/LOG="%s"`,
		logFile:        "InnoSetupUninstall.log",
		validExitCodes: []int{0},
	}
	nsisInstaller = installer{
		kind:           types.InstallerTypeNsis,
		silentArgs:     "/S",
		validExitCodes: []int{0},
	}
	installShieldInstaller = installer{
		kind:           types.InstallerTypeInstallShield,
		silentArgs:     "/uninst /s",
		logSwitch:      `/f2"%s"`,
		logFile:        "InstallShieldUninstall.log",
		validExitCodes: []int{0, 1605, 1614, 1641, 3010},
	}
	customInstaller = installer{
		kind:           types.InstallerTypeCustom,
		silentArgs:     "/S",
		validExitCodes: []int{0},
	}
)

// installerFor picks the builder for a recorded installer type. Anything
// without a dedicated builder is treated as a custom installer.
func installerFor(kind types.InstallerType) installer {
	switch kind {
	case types.InstallerTypeMsi:
		return msiInstaller
	case types.InstallerTypeInnoSetup:
		return innoSetupInstaller
	case types.InstallerTypeNsis:
		return nsisInstaller
	case types.InstallerTypeInstallShield:
		return installShieldInstaller
	default:
		return customInstaller
	}
}

// silentUninstallArguments returns the silent switches followed by the
// logging switch, if the family supports one, writing into logDir.
func (i installer) silentUninstallArguments(logDir string) string {
	if i.logFile == "" {
		return i.silentArgs
	}
	return joinArguments(i.silentArgs, fmt.Sprintf(i.logSwitch, filepath.Join(logDir, i.logFile)))
}

func (i installer) validExitCode(code int) bool {
	return slices.Contains(i.validExitCodes, code)
}

var msiInstallModeReplacer = strings.NewReplacer(
	"/I{", "/X{",
	"/i{", "/X{",
	"/I ", "/X ",
	"/i ", "/X ",
)

// rewriteMsiArguments forces msiexec into uninstall mode when an install
// switch leaked into the recorded uninstall string.
func rewriteMsiArguments(args string) string {
	return msiInstallModeReplacer.Replace(args)
}

func substituteLocations(args string, location string) string {
	return strings.NewReplacer(packageLocationToken, location, logLocationToken, location).Replace(args)
}

func joinArguments(parts ...string) string {
	var kept []string
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, " ")
}
