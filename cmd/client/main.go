// Command client is the bitpeer peer: generate metainfo for a local file
// (-g), run the interactive share/download REPL (no flags), optionally
// overriding the local UDP port (-p, default 6881).
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gosuri/uiprogress"

	"bitpeer/internal/announcer"
	"bitpeer/internal/catalog"
	"bitpeer/internal/discovery"
	"bitpeer/internal/download"
	"bitpeer/internal/engine"
	"bitpeer/internal/idgen"
	"bitpeer/internal/logging"
	"bitpeer/internal/metainfo"
)

const (
	defaultPeerPort    = 6881
	defaultPieceLength = 512_000
	defaultTrackerURL  = "http://localhost:8080"
	defaultShareDir    = "./shared"
)

func main() {
	generate := flag.String("g", "", "generate a .torrent for this file and exit")
	port := flag.Int("p", defaultPeerPort, "local peer UDP port")
	flag.Parse()

	announceURL := resolveTrackerURL()

	if *generate != "" {
		out := *generate + ".torrent"
		if err := metainfo.MakeMetainfo(*generate, announceURL, out, defaultPieceLength); err != nil {
			logging.Error("client: generate metainfo for %q: %v", *generate, err)
			os.Exit(1)
		}
		logging.Info("client: wrote %s", out)
		os.Exit(0)
	}

	runInteractive(announceURL, *port)
}

func resolveTrackerURL() string {
	if url, err := discovery.DiscoverTracker(3 * time.Second); err == nil {
		logging.Info("client: discovered tracker at %s", url)
		return url
	}
	logging.Info("client: no tracker discovered, using default %s", defaultTrackerURL)
	return defaultTrackerURL
}

func runInteractive(announceURL string, peerPort int) {
	eng, err := engine.New(peerPort)
	if err != nil {
		logging.Error("client: %v", err)
		os.Exit(1)
	}
	downloads := download.NewManager()
	eng.SetPieceChunkHandler(downloads.HandlePieceFragment)

	eng.Start()
	defer eng.Stop()

	peerID := idgen.New()
	cat := catalog.New(defaultShareDir)

	ann := announcer.New(cat, eng, peerID, uint16(peerPort))
	ctx, cancel := context.WithCancel(context.Background())
	go ann.Run(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		logging.Info("client: shutting down...")
		cancel()
		os.Exit(0)
	}()

	logging.Info("client: peer_id=%s udp_port=%d tracker=%s", peerID, peerPort, announceURL)
	fmt.Println("bitpeer interactive mode. Commands: scan, list, get <infohash> <ip> <port> <name> <size> <piece_len> <num_pieces>, quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)

		switch fields[0] {
		case "scan":
			entries, err := cat.Scan(announceURL, defaultPieceLength)
			if err != nil {
				fmt.Println("scan error:", err)
				continue
			}
			fmt.Printf("scanned %d entries\n", len(entries))

		case "list":
			for _, e := range cat.List() {
				fmt.Printf("%x  %s  synced=%v\n", e.Meta.InfoHash, e.FilePath, e.Synced)
			}

		case "get":
			if len(fields) != 8 {
				fmt.Println("usage: get <infohash> <ip> <port> <name> <size> <piece_len> <num_pieces>")
				continue
			}
			startDownload(eng, downloads, peerID, fields[1:])

		case "quit", "exit":
			cancel()
			return

		default:
			fmt.Println("unknown command")
		}
	}
}

func startDownload(eng *engine.Engine, downloads *download.Manager, peerID string, args []string) {
	infoHashHex, ip, portStr, name, sizeStr, pieceLenStr, numPiecesStr := args[0], args[1], args[2], args[3], args[4], args[5], args[6]

	port, err := strconv.Atoi(portStr)
	if err != nil {
		fmt.Println("bad port:", err)
		return
	}
	size, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil {
		fmt.Println("bad size:", err)
		return
	}
	pieceLen, err := strconv.ParseInt(pieceLenStr, 10, 64)
	if err != nil {
		fmt.Println("bad piece length:", err)
		return
	}
	numPieces, err := strconv.Atoi(numPiecesStr)
	if err != nil {
		fmt.Println("bad piece count:", err)
		return
	}
	if net.ParseIP(ip) == nil {
		fmt.Println("bad ip address")
		return
	}

	entry := downloads.Start(name, infoHashHex, name, size, pieceLen, numPieces)

	if err := eng.PunchTo(ip, port, peerID); err != nil {
		fmt.Println("punch failed:", err)
		return
	}

	uiprogress.Start()
	bar := uiprogress.AddBar(numPieces)
	bar.AppendCompleted()
	bar.AppendFunc(func(b *uiprogress.Bar) string {
		return fmt.Sprintf("pieces: %d/%d", entry.PiecesComplete(), numPieces)
	})
	bar.AppendElapsed()

	for i := 0; i < numPieces; i++ {
		if err := eng.RequestPieceFrom(ip, port, infoHashHex, i, peerID); err != nil {
			logging.Warn("client: request piece %d: %v", i, err)
		}
	}

	go func() {
		for !entry.Completed() {
			bar.Set(entry.PiecesComplete())
			time.Sleep(200 * time.Millisecond)
		}
		bar.Set(numPieces)
		uiprogress.Stop()
		fmt.Printf("\ndownload of %s complete\n", name)
	}()
}
