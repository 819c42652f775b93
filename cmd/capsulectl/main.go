//go:build linux

// Command capsulectl is a thin operator front-end over the capsule core:
// enumerate ESRT targets, stage and deliver a capsule, apply a dbx update,
// or report the outcome of a previous install. It exists so the core can
// be exercised from a terminal the way a host daemon would drive it
// in-process; it is not itself the daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/fwupdcore/uefi-capsule-core/internal/backend"
	"github.com/fwupdcore/uefi-capsule-core/internal/capsule"
	"github.com/fwupdcore/uefi-capsule-core/internal/cli"
	coreCtx "github.com/fwupdcore/uefi-capsule-core/internal/ctx"
	"github.com/fwupdcore/uefi-capsule-core/internal/dbx"
	"github.com/fwupdcore/uefi-capsule-core/internal/efivars"
	"github.com/fwupdcore/uefi-capsule-core/internal/esrt"
	"github.com/fwupdcore/uefi-capsule-core/internal/espvol"
	"github.com/fwupdcore/uefi-capsule-core/internal/report"
	"github.com/fwupdcore/uefi-capsule-core/internal/uxcapsule"
)

//nolint:gochecknoglobals
var (
	espMountFlag = flag.String("esp", "/boot/efi", "ESP mount point")
	osDirFlag    = flag.String("os-dir", "fedora", "distro-specific EFI/<os-dir> subtree")
	guidFlag     = flag.String("guid", "", "target firmware_class GUID (install/report)")
	payloadFlag  = flag.String("payload", "", "path to the capsule/dbx payload to stage or apply")
	backendFlag  = flag.String("backend", "nvram", "delivery backend: nvram|grub")
	secureBoot   = flag.Bool("secure-boot", false, "Secure Boot is enabled on this host")
	verbose      = flag.Bool("verbose", false, "enable FWUPDATE_VERBOSE for the next boot")
	splashFlag   = flag.String("splash-archive", "", "path to a tar of pre-rendered <w>x<h>.bmp splash images")
	fbWidthFlag  = flag.Uint("fb-width", 1920, "framebuffer width to pick a splash image for")
	fbHeightFlag = flag.Uint("fb-height", 1080, "framebuffer height to pick a splash image for")
	yesFlag      = flag.Bool("yes", false, "assume yes to interactive prompts (for unattended runs)")
	kindFlag     cli.MultiFlag
)

func init() {
	flag.Var(&kindFlag, "kind", "restrict 'list' to this ESRT fw_type (repeatable); default is all kinds")
}

func main() {
	flag.Parse()
	cli.YesFlag = *yesFlag

	switch cmd := flag.Arg(0); cmd {
	case "list":
		runList()
	case "install":
		runInstall()
	case "apply-dbx":
		runApplyDbx()
	case "report":
		runReport()
	case "cleanup":
		runCleanup()
	case "splash":
		runSplash()
	default:
		log.Fatalf("usage: capsulectl <list|install|apply-dbx|report|cleanup|splash> [flags]")
	}
}

func newCore() *coreCtx.Core {
	store := efivars.NewLinuxStore()
	if !store.Supported() {
		log.Fatalf("this host has no writable efivarfs; capsulectl requires UEFI")
	}

	vol, err := espvol.Discover("/proc/mounts", *espMountFlag)
	cli.Must("discover ESP", err)

	espDevice, err := espvol.FindMountedDevice("/proc/mounts", *espMountFlag)
	cli.Must("find ESP partition device", err)
	locker := espvol.NewLocker(*espMountFlag, espDevice)

	platform := coreCtx.Platform{
		OSDir:          *osDirFlag,
		ArchSuffix:     "x64",
		SecureBoot:     *secureBoot,
		HostAppDir:     "/usr/lib/fwupd/efi",
		LocalStateDir:  "/var/lib/fwupd",
		FwupdBinarySrc: "/usr/lib/fwupd/efi/fwupx64.efi",
	}

	core := coreCtx.New(store, *vol, locker, platform)
	core.FreeSpace = espvol.FreeSpace
	core.SnapdNotifier = dbx.NewSnapdNotifier(dbx.DefaultSnapdSocket)
	return core
}

func runList() {
	enum := esrt.NewEnumerator()
	targets, err := enum.Enumerate()
	cli.Must("enumerate ESRT", err)
	for _, t := range targets {
		if !kindMatches(t.Kind) {
			continue
		}
		fmt.Printf("%s\t%s\tfw=%s\tlowest=%s\tlast-attempt=%s\n",
			t.FirmwareClass, t.Kind, t.VersionFormat(t.FwVersion),
			t.VersionFormat(t.FwVersionLowest), t.LastAttemptStatus)
	}
}

// kindMatches reports whether an ESRT entry's kind passes the -kind
// filter(s); with no -kind given every entry passes.
func kindMatches(k esrt.Kind) bool {
	if len(kindFlag) == 0 {
		return true
	}
	for _, want := range kindFlag {
		if strings.EqualFold(want, k.String()) {
			return true
		}
	}
	return false
}

func runInstall() {
	if *guidFlag == "" {
		*guidFlag = cli.AskRequired("target firmware_class GUID")
	}
	if *payloadFlag == "" {
		*payloadFlag = cli.AskRequired("path to the capsule payload")
	}
	core := newCore()

	enum := esrt.NewEnumerator()
	targets, err := enum.Enumerate()
	cli.Must("enumerate ESRT", err)

	var target *esrt.CapsuleTarget
	for i := range targets {
		if targets[i].FirmwareClass.String() == *guidFlag {
			target = &targets[i]
			break
		}
	}
	if target == nil {
		log.Fatalf("no ESRT entry with firmware_class %s", *guidFlag)
	}

	payload, err := os.ReadFile(*payloadFlag)
	cli.Must("read payload", err)

	quirks := capsule.DefaultQuirks(target.Kind)

	var kind backend.Kind
	switch *backendFlag {
	case "nvram":
		kind = backend.NVRAM
	case "grub":
		kind = backend.GRUBChainload
	default:
		log.Fatalf("unknown -backend %q (want nvram or grub)", *backendFlag)
	}

	if !cli.AskYesNo(fmt.Sprintf("stage capsule for %s via %s backend", target.FirmwareClass, kind), true) {
		log.Fatalf("aborted")
	}
	if *verbose {
		cli.Must("enable FWUPDATE_VERBOSE", efivars.NewLinuxStore().SetVerbose(true))
	}

	result, err := core.Install(*target, quirks, payload, kind)
	cli.Must("install capsule", err)

	fmt.Printf("staged %s\n", result.Staged.StagedPath)
	fmt.Printf("%s: %s\n", result.Backend.Kind, result.Backend.Detail)
}

func runApplyDbx() {
	if *payloadFlag == "" {
		*payloadFlag = cli.AskRequired("path to the dbx payload")
	}
	core := newCore()
	payload, err := os.ReadFile(*payloadFlag)
	cli.Must("read dbx payload", err)

	if !cli.AskYesNo("apply this dbx update; a bad signature list can make Secure Boot unbootable", false) {
		log.Fatalf("aborted")
	}

	rep, err := core.ApplyDbx(context.Background(), payload, dbx.ApplyOptions{Verbose: *verbose})
	cli.Must("apply dbx", err)

	fmt.Printf("dbx now has %d signature list(s); last entry sha256=%x\n", rep.ListCount, rep.LastChecksum)
}

func runReport() {
	if *guidFlag == "" {
		*guidFlag = cli.AskRequired("firmware_class GUID to report on")
	}
	core := newCore()

	enum := esrt.NewEnumerator()
	targets, err := enum.Enumerate()
	cli.Must("enumerate ESRT", err)

	var target *esrt.CapsuleTarget
	for i := range targets {
		if targets[i].FirmwareClass.String() == *guidFlag {
			target = &targets[i]
			break
		}
	}
	if target == nil {
		log.Fatalf("no ESRT entry with firmware_class %s", *guidFlag)
	}

	result, err := core.Report(*target, false)
	cli.Must("report install outcome", err)

	if result.State == report.Success {
		fmt.Println("success")
		return
	}
	fmt.Printf("%s: %s\n", result.State, result.Note)
}

func runCleanup() {
	core := newCore()
	if !cli.AskYesNo("remove stale BootNext entries and update_info variables", true) {
		log.Fatalf("aborted")
	}
	cli.Must("cleanup stale state", core.Cleanup())
	fmt.Println("cleaned up stale capsule state")
}

func runSplash() {
	if *splashFlag == "" {
		*splashFlag = cli.AskRequired("path to the splash image tar archive")
	}
	core := newCore()

	bgrt, err := uxcapsule.NewBGRTReader().Read()
	cli.Must("read platform BGRT", err)

	archive, err := os.ReadFile(*splashFlag)
	cli.Must("read splash archive", err)

	result, err := core.InstallUX(bgrt, false, uint32(*fbWidthFlag), uint32(*fbHeightFlag), archive)
	cli.Must("stage UX capsule", err)

	fmt.Printf("staged splash capsule %s\n", result.StagedPath)
}
