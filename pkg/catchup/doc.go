// Package catchup is the collector-side client of a sensor packet store.
//
// A collector that missed data sends a handshake listing the intervals it
// lacks; the store answers with descriptors of every packet it holds in
// those intervals, and the collector then fetches each packet by
// descriptor over NATS request-reply.
//
// # Basic Usage
//
//	nc, _ := nats.Connect("nats://localhost:4222")
//	client, _ := catchup.New(catchup.Config{NC: nc})
//
//	missing := []catchup.Interval{{Start: 1700000000, End: 1700003600}}
//	packets, _ := client.Handshake(ctx, time.Now().Unix(), missing)
//	for _, d := range packets {
//		data, _ := client.Packet(ctx, d)
//		process(data)
//	}
//
// # Subjects
//
//	sensor.handshake            binary handshake, JSON reply
//	sensor.packet.{loc}.{ts}    raw packet bytes; loc is "flash" or a bucket
//	sensor.ingest               raw packet bytes to queue on the store
//
// The prefix defaults to "sensor" and is set via [Config.SubjectPrefix].
package catchup
