package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/gftdcojp/sensor-packet-store/internal/packet"
	"github.com/gftdcojp/sensor-packet-store/internal/types"
)

var version = "dev"

func main() {
	addr := flag.String("addr", "http://localhost:8080", "packet-store API address")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "version":
		fmt.Printf("psctl %s\n", version)
	case "status":
		cmdStatus(*addr)
	case "query":
		if len(args) < 3 || len(args)%2 == 0 {
			fmt.Fprintln(os.Stderr, "usage: psctl query <start> <end> [<start> <end>...]")
			os.Exit(1)
		}
		cmdQuery(*addr, args[1:])
	case "handshake":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: psctl handshake <ascii85>")
			os.Exit(1)
		}
		cmdHandshake(*addr, args[1])
	case "packet":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: psctl packet <flash|bucket> <timestamp>")
			os.Exit(1)
		}
		cmdPacket(*addr, args[1], args[2])
	case "faults":
		cmdFaults(*addr)
	case "handshakes":
		limit := "20"
		if len(args) > 1 {
			limit = args[1]
		}
		cmdHandshakes(*addr, limit)
	case "clear-flash":
		cmdClearFlash(*addr)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `psctl - sensor packet store management CLI

Usage:
  psctl [flags] <command> [args]

Commands:
  status                       Show tier status
  query <start> <end> ...      List stored packets strictly inside the intervals
  handshake <ascii85>          Answer an encoded catch-up handshake
  packet <flash|bucket> <ts>   Decode a stored packet
  faults                       List recorded tier faults
  handshakes [limit]           List recently answered handshakes
  clear-flash                  Delete every flash packet
  version                      Show version

Flags:
  -addr string   API address (default "http://localhost:8080")`)
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// checkStatus exits with the server's error message on a non-2xx reply.
func checkStatus(resp *http.Response) {
	if resp.StatusCode/100 == 2 {
		return
	}
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	fail("%s: %s (%s)", resp.Status, body.Error, body.Code)
}

func cmdStatus(addr string) {
	resp, err := http.Get(addr + "/v1/status")
	if err != nil {
		fail("%v", err)
	}
	defer resp.Body.Close()
	checkStatus(resp)

	var st struct {
		DeviceID string          `json:"device_id"`
		Ready    bool            `json:"ready"`
		Queued   int             `json:"queued"`
		Flash    types.TierStats `json:"flash"`
		Archive  types.TierStats `json:"archive"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		fail("decoding response: %v", err)
	}

	fmt.Printf("device %s  ready=%v  queued=%d\n\n", st.DeviceID, st.Ready, st.Queued)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIER\tACTIVE\tENTRIES\tFIRST\tLAST\tCAPACITY")
	for _, ts := range []types.TierStats{st.Flash, st.Archive} {
		capacity := "-"
		if ts.Capacity >= 0 {
			capacity = strconv.Itoa(ts.Capacity)
		}
		fmt.Fprintf(w, "%s\t%v\t%d\t%s\t%s\t%s\n",
			ts.Tier, ts.Active, ts.Entries, formatTime(ts.First), formatTime(ts.Last), capacity)
	}
	w.Flush()
}

func cmdQuery(addr string, bounds []string) {
	var req struct {
		Intervals []types.Interval `json:"intervals"`
	}
	for i := 0; i+1 < len(bounds); i += 2 {
		start, err1 := strconv.ParseInt(bounds[i], 10, 64)
		end, err2 := strconv.ParseInt(bounds[i+1], 10, 64)
		if err1 != nil || err2 != nil {
			fail("interval bounds must be unix seconds: %s %s", bounds[i], bounds[i+1])
		}
		req.Intervals = append(req.Intervals, types.Interval{Start: start, End: end})
	}
	body, _ := json.Marshal(req)

	resp, err := http.Post(addr+"/v1/query", "application/json", bytes.NewReader(body))
	if err != nil {
		fail("%v", err)
	}
	defer resp.Body.Close()
	checkStatus(resp)

	var result struct {
		Packets []types.Descriptor `json:"packets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		fail("decoding response: %v", err)
	}
	printDescriptors(result.Packets)
}

func cmdHandshake(addr, encoded string) {
	resp, err := http.Post(addr+"/v1/handshake", "text/plain", strings.NewReader(encoded))
	if err != nil {
		fail("%v", err)
	}
	defer resp.Body.Close()

	var reply struct {
		Timestamp int64              `json:"timestamp"`
		Packets   []types.Descriptor `json:"packets"`
		Error     string             `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		fail("decoding response: %v", err)
	}
	if reply.Error != "" {
		fail("%s", reply.Error)
	}
	fmt.Printf("handshake issued %s\n\n", formatTime(reply.Timestamp))
	printDescriptors(reply.Packets)
}

func printDescriptors(ds []types.Descriptor) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIER\tLOCATION\tTIMESTAMP\tTIME")
	for _, d := range ds {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", d.Tier, d.Location(), d.Timestamp, formatTime(d.Timestamp))
	}
	w.Flush()
	fmt.Printf("\n%d packets\n", len(ds))
}

func cmdPacket(addr, loc, ts string) {
	resp, err := http.Get(addr + "/v1/packets/" + loc + "/" + ts)
	if err != nil {
		fail("%v", err)
	}
	defer resp.Body.Close()
	checkStatus(resp)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		fail("reading packet: %v", err)
	}
	fmt.Printf("%d bytes\n%s", len(data), hex.Dump(data))

	samples, err := packet.DecodeDataPoints(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "not a data-point packet: %v\n", err)
		return
	}
	fmt.Println()
	for _, s := range samples {
		fmt.Printf("%s  %v\n", formatTime(s.Timestamp), s.Values)
	}
}

func cmdFaults(addr string) {
	resp, err := http.Get(addr + "/v1/journal/faults")
	if err != nil {
		fail("%v", err)
	}
	defer resp.Body.Close()
	checkStatus(resp)

	var faults []struct {
		Tier   string    `json:"tier"`
		At     time.Time `json:"at"`
		Reason string    `json:"reason"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&faults); err != nil {
		fail("decoding response: %v", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIER\tAT\tREASON")
	for _, f := range faults {
		fmt.Fprintf(w, "%s\t%s\t%s\n", f.Tier, f.At.Format(time.RFC3339), f.Reason)
	}
	w.Flush()
}

func cmdHandshakes(addr, limit string) {
	resp, err := http.Get(addr + "/v1/journal/handshakes?limit=" + limit)
	if err != nil {
		fail("%v", err)
	}
	defer resp.Body.Close()
	checkStatus(resp)

	var recs []struct {
		ReceivedAt time.Time        `json:"received_at"`
		Transport  string           `json:"transport"`
		Timestamp  int64            `json:"timestamp"`
		Intervals  []types.Interval `json:"intervals"`
		Results    int              `json:"results"`
		Error      string           `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&recs); err != nil {
		fail("decoding response: %v", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RECEIVED\tTRANSPORT\tISSUED\tINTERVALS\tRESULTS\tERROR")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			r.ReceivedAt.Format(time.RFC3339), r.Transport, formatTime(r.Timestamp),
			len(r.Intervals), r.Results, r.Error)
	}
	w.Flush()
}

func cmdClearFlash(addr string) {
	resp, err := http.Post(addr+"/v1/admin/clear-flash", "", nil)
	if err != nil {
		fail("%v", err)
	}
	defer resp.Body.Close()
	checkStatus(resp)
	printJSON(resp.Body)
}

func formatTime(ts int64) string {
	if ts == 0 {
		return "-"
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

func printJSON(r io.Reader) {
	var v interface{}
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		fmt.Fprintf(os.Stderr, "error decoding response: %v\n", err)
		return
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
