// Package usbsync implements the side service that watches for a
// removable drive carrying a configuration document and decides
// whether it should replace the local one (spec.md §6 "USB sync
// document").
//
// Mount/unmount detection is grounded on 0h41-pulsekontrol's D-Bus
// client usage (its go.mod pulls in github.com/godbus/dbus/v5
// transitively through the pulseaudio package it talks to over the
// session bus); this package applies the same dbus/v5 signal-
// subscription idiom to the system bus's UDisks2 service instead,
// since that is the real source of mount/unmount notifications on a
// headless Linux host. Document lookup on the mounted filesystem
// reuses pkg/fileutil's case-insensitive search verbatim.
package usbsync

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/godbus/dbus/v5"

	"github.com/pimidbox/pimidbox/internal/config"
	"github.com/pimidbox/pimidbox/pkg/fileutil"
	"github.com/pimidbox/pimidbox/pkg/logger"
)

var log = logger.Component("usbsync")

// DocumentName is the file UDisks2 mounts are searched for, per
// spec.md §6.
const DocumentName = "pimidbox.config.json"

const (
	udisks2Service         = "org.freedesktop.UDisks2"
	objectManagerInterface = "org.freedesktop.DBus.ObjectManager"
	filesystemInterface    = "org.freedesktop.UDisks2.Filesystem"
)

// Watcher subscribes to UDisks2 mount/unmount signals on the system
// bus and, on every mount, decides whether the removable drive's copy
// of the configuration document should replace the local one.
type Watcher struct {
	conn      *dbus.Conn
	localPath string
	onSync    func(path string)

	signals chan *dbus.Signal
	stop    chan struct{}
	done    chan struct{}
}

// New constructs a Watcher. onSync is invoked with the path of
// whichever document (local or removable) should now be considered
// authoritative, determined by Resolve.
func New(conn *dbus.Conn, localConfigPath string, onSync func(path string)) *Watcher {
	return &Watcher{
		conn:      conn,
		localPath: localConfigPath,
		onSync:    onSync,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start subscribes to InterfacesAdded/InterfacesRemoved on the
// UDisks2 object manager and begins processing mount events in a
// background goroutine.
func (w *Watcher) Start() error {
	call := w.conn.BusObject().Call(
		"org.freedesktop.DBus.AddMatch", 0,
		fmt.Sprintf("type='signal',sender='%s',interface='%s'", udisks2Service, objectManagerInterface),
	)
	if call.Err != nil {
		return fmt.Errorf("usbsync: subscribe to udisks2: %w", call.Err)
	}

	w.signals = make(chan *dbus.Signal, 16)
	w.conn.Signal(w.signals)

	go w.loop()
	return nil
}

// Stop unsubscribes and terminates the background goroutine.
func (w *Watcher) Stop() {
	close(w.stop)
	<-w.done
	w.conn.RemoveSignal(w.signals)
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case sig, ok := <-w.signals:
			if !ok {
				return
			}
			w.handleSignal(sig)
		}
	}
}

func (w *Watcher) handleSignal(sig *dbus.Signal) {
	switch sig.Name {
	case objectManagerInterface + ".InterfacesAdded":
		w.handleInterfacesAdded(sig)
	case objectManagerInterface + ".InterfacesRemoved":
		// Removal needs no action: a drive's document is only read
		// when the drive is mounted, so a removed sync document simply
		// stops being considered until it reappears.
	}
}

func (w *Watcher) handleInterfacesAdded(sig *dbus.Signal) {
	if len(sig.Body) != 2 {
		return
	}
	ifaces, ok := sig.Body[1].(map[string]map[string]dbus.Variant)
	if !ok {
		return
	}

	fsProps, ok := ifaces[filesystemInterface]
	if !ok {
		return
	}

	mountPointsVariant, ok := fsProps["MountPoints"]
	if !ok {
		return
	}
	raw, ok := mountPointsVariant.Value().([][]byte)
	if !ok || len(raw) == 0 {
		return
	}

	for _, mp := range raw {
		w.onMount(nullTerminatedString(mp))
	}
}

func nullTerminatedString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func (w *Watcher) onMount(mountPoint string) {
	path, err := fileutil.FindFileCaseInsensitive(mountPoint, DocumentName)
	if err != nil {
		log.Debug().Str("mount", mountPoint).Msg("no configuration document on removable drive")
		return
	}

	winner, err := Resolve(w.localPath, path)
	if err != nil {
		log.Error().Err(err).Msg("usb sync: could not compare local and removable documents")
		return
	}

	log.Info().Str("winner", winner).Msg("usb sync: configuration document resolved")
	if w.onSync != nil {
		w.onSync(winner)
	}
}

// Resolve decides which of the local and removable configuration
// documents is authoritative, both validated first (an invalid
// document on either side is a configuration error per spec.md §7.1,
// logged and the sync skipped rather than applied). The newer file by
// mtime wins; equal mtimes resolve to local, per spec.md §9's open
// question resolution.
func Resolve(localPath, removablePath string) (string, error) {
	localInfo, localErr := os.Stat(localPath)
	removableInfo, removableErr := os.Stat(removablePath)

	if removableErr != nil {
		return "", fmt.Errorf("usbsync: stat removable document: %w", removableErr)
	}
	if _, err := config.Load(removablePath); err != nil {
		return "", fmt.Errorf("usbsync: removable document failed validation: %w", err)
	}

	if localErr != nil {
		// No local document to compare against; the removable one wins
		// by default.
		return removablePath, nil
	}
	if _, err := config.Load(localPath); err != nil {
		return "", fmt.Errorf("usbsync: local document failed validation: %w", err)
	}

	if removableInfo.ModTime().After(localInfo.ModTime()) {
		return removablePath, nil
	}
	return localPath, nil
}

// SyncToRemovable loads the local configuration document and writes
// it to mountPoint under DocumentName. The Watcher does not call it:
// on a mount, only a winning removable document is acted on.
func SyncToRemovable(localPath, mountPoint string) error {
	cfg, err := config.Load(localPath)
	if err != nil {
		return fmt.Errorf("usbsync: load local document: %w", err)
	}
	return config.Save(filepath.Join(mountPoint, DocumentName), cfg)
}
