package main

import (
	"context"
	"fmt"

	"github.com/gftdcojp/sensor-packet-store/internal/archive"
	"github.com/gftdcojp/sensor-packet-store/internal/config"
	"github.com/gftdcojp/sensor-packet-store/internal/flash"
	"github.com/gftdcojp/sensor-packet-store/internal/tier"
	"github.com/gftdcojp/sensor-packet-store/internal/volume"
	"github.com/gftdcojp/sensor-packet-store/pkg/s3util"
	"go.uber.org/zap"
)

type storage struct {
	coord *tier.Coordinator
	// s3Client is set when the archive lives in S3; readiness pings it.
	s3Client *s3util.Client
}

// buildStorage assembles both tiers and the coordinator from config. A tier
// whose volume cannot be opened is left out and reported, matching what
// Initialize does when a scan fails.
func buildStorage(ctx context.Context, cfg *config.Config, notifier tier.Notifier, logger *zap.Logger) (*storage, error) {
	sc := cfg.Storage
	st := &storage{}

	tcfg := tier.Config{
		Notifier:      notifier,
		GapThreshold:  sc.GapThreshold.Duration(),
		SanityEpoch:   sc.SanityEpoch,
		MaxIntervals:  sc.MaxIntervals,
		MaxResults:    sc.MaxResults,
		MaxPacketSize: int(sc.MaxPacketSize),
		QueueCapacity: sc.QueueCapacity,
		Logger:        logger,
	}

	if sc.Flash.Enabled {
		vol, err := volume.NewLocal(sc.Flash.Dir)
		if err != nil {
			logger.Error("flash volume unavailable", zap.String("dir", sc.Flash.Dir), zap.Error(err))
			notifier.FlashError(fmt.Errorf("opening flash volume: %w", err))
		} else {
			tcfg.Flash = flash.NewStore(flash.Config{
				Volume:      vol,
				Capacity:    sc.Flash.MaxPackets,
				Extension:   sc.PacketExtension,
				SanityEpoch: sc.SanityEpoch,
				Logger:      logger,
			})
		}
	}

	if sc.Archive.Enabled {
		vol, err := archiveVolume(ctx, sc.Archive, st)
		if err != nil {
			logger.Error("archive volume unavailable", zap.String("backend", sc.Archive.Backend), zap.Error(err))
			notifier.ArchiveError(fmt.Errorf("opening archive volume: %w", err))
		} else {
			tcfg.Archive = archive.NewStore(archive.Config{
				Volume:         vol,
				Root:           cfg.DeviceID,
				BucketTimespan: sc.Archive.BucketTimespan.Duration(),
				Extension:      sc.PacketExtension,
				SanityEpoch:    sc.SanityEpoch,
				Logger:         logger,
			})
		}
	}

	if tcfg.Flash == nil && tcfg.Archive == nil {
		return nil, fmt.Errorf("no storage tier could be opened")
	}
	st.coord = tier.New(tcfg)
	return st, nil
}

func archiveVolume(ctx context.Context, cfg config.ArchiveTierConfig, st *storage) (volume.Volume, error) {
	switch cfg.Backend {
	case "s3":
		client, err := s3util.NewClient(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("creating S3 client: %w", err)
		}
		st.s3Client = client
		return volume.NewS3(client.S3, client.Bucket, client.Prefix), nil
	default:
		return volume.NewLocal(cfg.Root)
	}
}
