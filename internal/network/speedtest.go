package network

import (
	"context"
	"fmt"
	"time"

	"github.com/showwin/speedtest-go/speedtest"
)

// SpeedTestResult is the optional diagnostic layered on top of the
// mandated online/offline probe (spec §4.B only requires reachability;
// this is additive, mirroring the teacher's full speed test).
type SpeedTestResult struct {
	DownloadMbps float64
	UploadMbps   float64
	PingMs       float64
	ServerName   string
	ServerHost   string
	Timestamp    time.Time
}

// RunSpeedTest finds the nearest server and measures ping/download/upload.
func RunSpeedTest(ctx context.Context) (*SpeedTestResult, error) {
	client := speedtest.New()

	serverList, err := client.FetchServers()
	if err != nil {
		return nil, fmt.Errorf("fetch servers: %w", err)
	}
	targets, err := serverList.FindServer([]int{})
	if err != nil || len(targets) == 0 {
		return nil, fmt.Errorf("find server: %w", err)
	}
	target := targets[0]

	if err := target.PingTestContext(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping test: %w", err)
	}
	if err := target.DownloadTestContext(ctx); err != nil {
		return nil, fmt.Errorf("download test: %w", err)
	}
	if err := target.UploadTestContext(ctx); err != nil {
		return nil, fmt.Errorf("upload test: %w", err)
	}

	return &SpeedTestResult{
		DownloadMbps: float64(target.DLSpeed) / 1000 / 1000 * 8,
		UploadMbps:   float64(target.ULSpeed) / 1000 / 1000 * 8,
		PingMs:       float64(target.Latency.Milliseconds()),
		ServerName:   target.Name,
		ServerHost:   target.Host,
		Timestamp:    time.Now().UTC(),
	}, nil
}
