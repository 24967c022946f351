package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/homesafe/plugins/kidde"
)

type deviceRef struct {
	locationID int64
	deviceID   int64
}

func kiddeCmd(ctx context.Context, conn *grpc.ClientConn, args []string, jsonOutput bool) {
	out := outputMode{json: jsonOutput}
	if len(args) == 0 {
		kiddeUsage()
		os.Exit(2)
	}

	client := kidde.NewKiddeServiceClient(conn)
	switch args[0] {
	case "devices", "list":
		devices := listDevices(ctx, client)
		if out.json {
			out.printJSON(devices)
			return
		}
		rows := [][]string{{"DEVICE", "ID", "LOCATION", "SMOKE", "CO", "LOW BATTERY", "AIR", "TEMP °C", "HUMIDITY %"}}
		for _, d := range devices {
			rows = append(rows, []string{
				cell(d["label"]), cell(d["device_id"]), cell(d["location_id"]),
				cell(d["smoke_detected"]), cell(d["co_detected"]), cell(d["low_battery"]),
				airQualityName(d["air_quality"]), cell(d["temperature_celsius"]), cell(d["humidity"]),
			})
		}
		out.table(rows)
	case "data":
		flags := flag.NewFlagSet("kidde data", flag.ExitOnError)
		events := flags.Bool("events", false, "Fetch events")
		noDevices := flags.Bool("no-devices", false, "Skip devices")
		_ = flags.Parse(args[1:])

		req, err := structpb.NewStruct(map[string]any{"devices": !*noDevices, "events": *events})
		if err != nil {
			fatal("kidde data", err)
		}
		resp, err := client.GetData(ctx, req)
		if err != nil {
			fatal("kidde data", err)
		}
		data := resp.AsMap()
		if out.json {
			out.printJSON(data)
			return
		}
		rows := [][]string{{"KIND", "ID", "LABEL"}}
		for _, kind := range []string{"locations", "devices", "events"} {
			list, _ := data[kind].([]any)
			for _, item := range list {
				record, _ := item.(map[string]any)
				label := record["label"]
				if label == nil {
					label = record["event_type"]
				}
				rows = append(rows, []string{strings.TrimSuffix(kind, "s"), cell(record["id"]), cell(label)})
			}
		}
		out.table(rows)
	case "members":
		if len(args) < 2 {
			fatal("kidde members", fmt.Errorf("usage: homesafe-cli kidde members <location>"))
		}
		locationID := resolveLocation(ctx, client, args[1])
		req, _ := structpb.NewStruct(map[string]any{"location_id": locationID})
		resp, err := client.ListMembers(ctx, req)
		if err != nil {
			fatal("kidde members", err)
		}
		members, _ := resp.AsMap()["members"].([]any)
		if out.json {
			out.printJSON(members)
			return
		}
		rows := [][]string{{"MEMBER", "ID", "ROLE"}}
		for _, item := range members {
			m, _ := item.(map[string]any)
			rows = append(rows, []string{cell(m["name"]), cell(m["id"]), cell(m["role"])})
		}
		out.table(rows)
	case "command":
		if len(args) < 3 {
			fatal("kidde command", fmt.Errorf("usage: homesafe-cli kidde command <device> <%s>", commandNames()))
		}
		cmd, err := kidde.ParseCommand(args[2])
		if err != nil {
			fatal("kidde command", err)
		}
		ref := resolveDevice(ctx, client, args[1])
		req, _ := structpb.NewStruct(map[string]any{
			"location_id": ref.locationID,
			"device_id":   ref.deviceID,
			"command":     string(cmd),
		})
		if err := client.DeviceCommand(ctx, req); err != nil {
			fatal("kidde command", err)
		}
		if out.json {
			out.printJSON(map[string]any{"device_id": ref.deviceID, "command": string(cmd), "status": "ok"})
			return
		}
		fmt.Printf("ok: %s -> %d\n", cmd, ref.deviceID)
	default:
		kiddeUsage()
		os.Exit(2)
	}
}

func listDevices(ctx context.Context, client *kidde.KiddeServiceClient) []map[string]any {
	resp, err := client.ListDevices(ctx)
	if err != nil {
		fatal("kidde list devices", err)
	}
	list, _ := resp.AsMap()["devices"].([]any)
	devices := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if d, ok := item.(map[string]any); ok {
			devices = append(devices, d)
		}
	}
	return devices
}

func resolveDevice(ctx context.Context, client *kidde.KiddeServiceClient, input string) deviceRef {
	options := make(map[string]deviceRef)
	for _, d := range listDevices(ctx, client) {
		ref := deviceRef{locationID: int64Value(d["location_id"]), deviceID: int64Value(d["device_id"])}
		label, _ := d["label"].(string)
		if label == "" {
			label = strconv.FormatInt(ref.deviceID, 10)
		}
		options[label] = ref
	}
	ref, err := resolveNamedID("device", input, options, func(r deviceRef) string {
		return strconv.FormatInt(r.deviceID, 10)
	})
	if err != nil {
		fatal("kidde", err)
	}
	return ref
}

func resolveLocation(ctx context.Context, client *kidde.KiddeServiceClient, input string) int64 {
	req, _ := structpb.NewStruct(map[string]any{"devices": false, "events": false})
	resp, err := client.GetData(ctx, req)
	if err != nil {
		fatal("kidde locations", err)
	}
	options := make(map[string]int64)
	list, _ := resp.AsMap()["locations"].([]any)
	for _, item := range list {
		loc, _ := item.(map[string]any)
		id := int64Value(loc["id"])
		label, _ := loc["label"].(string)
		if label == "" {
			label = strconv.FormatInt(id, 10)
		}
		options[label] = id
	}
	id, err := resolveNamedID("location", input, options, func(id int64) string {
		return strconv.FormatInt(id, 10)
	})
	if err != nil {
		fatal("kidde", err)
	}
	return id
}

func int64Value(v any) int64 {
	f, _ := v.(float64)
	return int64(f)
}

func airQualityName(v any) string {
	f, ok := v.(float64)
	if !ok {
		return "-"
	}
	return kidde.AirQuality(int(f)).String()
}

func commandNames() string {
	names := make([]string, 0, len(kidde.Commands()))
	for _, c := range kidde.Commands() {
		names = append(names, string(c))
	}
	sort.Strings(names)
	return strings.Join(names, "|")
}

func kiddeUsage() {
	fmt.Println("homesafe-cli kidde <command>")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  devices")
	fmt.Println("  data [--events] [--no-devices]")
	fmt.Println("  members <location>")
	fmt.Printf("  command <device> <%s>\n", commandNames())
}
