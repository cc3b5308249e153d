// Command httpfs-mount is a debug harness that mounts an HTTP/WebDAV/S3
// origin as a local FUSE filesystem using pkg/fuse, for manually browsing a
// tree during development. It is not the host data-transfer client's plugin
// entry point -- that integration happens entirely through
// pkg/httpfs.File/Filesystem, never through this binary.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/xrdhttp/curlfs/pkg/common/logging"
	"github.com/xrdhttp/curlfs/pkg/fuse"
	"github.com/xrdhttp/curlfs/pkg/httpfs"
	"github.com/xrdhttp/curlfs/pkg/httpfs/config"
)

func main() {
	var (
		configFile = flag.String("config", "", "Configuration file path")
		mountPath  = flag.String("mount", "", "Local mount point")
		originURL  = flag.String("origin", "", "Origin base URL (e.g. https://host/path)")
		unmount    = flag.String("unmount", "", "Unmount the filesystem at this path and exit")
		help       = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()

	if *help {
		showHelp()
		return
	}

	if *unmount != "" {
		if err := unmountFS(*unmount); err != nil {
			log.Fatalf("unmount failed: %v", err)
		}
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	if err := logging.InitFromConfig(cfg.LogLevel, cfg.LogFormat, cfg.LogOutput, cfg.LogFile); err != nil {
		log.Fatalf("configuring logging: %v", err)
	}
	logger := logging.GetGlobalLogger().WithComponent("httpfs-mount")

	if *mountPath == "" || *originURL == "" {
		logger.Error("both -mount and -origin are required", nil)
		os.Exit(1)
	}

	logger.Info("starting curlfs debug mount", map[string]interface{}{
		"mount_path": *mountPath,
		"origin":     *originURL,
		"workers":    cfg.WorkerCount,
	})

	if err := mountFS(*mountPath, *originURL, cfg, logger); err != nil {
		log.Fatalf("mount failed: %v", err)
	}
}

func showHelp() {
	fmt.Println("curlfs debug mount tool")
	fmt.Println("========================")
	fmt.Println()
	fmt.Println("Mounts an HTTP/WebDAV/S3 origin read-only via FUSE, for manual")
	fmt.Println("browsing during development. Not used by the host data-transfer client.")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  httpfs-mount -mount /mnt/origin -origin https://example.org/data")
	fmt.Println("  httpfs-mount -unmount /mnt/origin")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
}

func mountFS(mountPath, originURL string, cfg *config.Config, logger *logging.Logger) error {
	mountPath = filepath.Clean(mountPath)

	factory := httpfs.NewFactory(httpfs.FactoryConfig{
		WorkerCount:  cfg.WorkerCount,
		QueueMaxSize: cfg.QueueMaxSize,
		WorkerConfig: httpfs.DefaultWorkerConfig(),
		CAFile:       cfg.CAFile,
		CADir:        cfg.CADir,
	}, logger)
	if err := factory.Init(); err != nil {
		return fmt.Errorf("initializing factory: %w", err)
	}
	defer factory.Shutdown()

	hfs, err := httpfs.NewFilesystem(factory, originURL)
	if err != nil {
		return fmt.Errorf("constructing filesystem for %s: %w", originURL, err)
	}

	logger.Info("mounting", map[string]interface{}{"mount_path": mountPath})
	server, err := fuse.Mount(mountPath, hfs)
	if err != nil {
		return fmt.Errorf("mounting FUSE at %s: %w", mountPath, err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal, unmounting", nil)
		server.Unmount()
	}()

	server.Wait()
	return nil
}

func unmountFS(mountPath string) error {
	mountPath = filepath.Clean(mountPath)
	return syscall.Unmount(mountPath, 0)
}
