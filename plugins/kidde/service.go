package kidde

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/joshp123/homesafe/internal/rate"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

type service struct {
	current func() *Synchronizer
}

// NewService serves the synchronizer returned by current at call time.
func NewService(current func() *Synchronizer) KiddeServiceServer {
	return &service{current: current}
}

func (s *service) synchronizer() (*Synchronizer, error) {
	if s.current == nil {
		return nil, status.Error(codes.FailedPrecondition, "kidde client not configured")
	}
	syncer := s.current()
	if syncer == nil {
		return nil, status.Error(codes.Unavailable, "kidde session not ready")
	}
	return syncer, nil
}

func (s *service) GetData(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	syncer, err := s.synchronizer()
	if err != nil {
		return nil, err
	}

	fetch := DefaultFetch
	fields := req.GetFields()
	if v, ok := fields["devices"]; ok {
		fetch.Devices = v.GetBoolValue()
	}
	if v, ok := fields["events"]; ok {
		fetch.Events = v.GetBoolValue()
	}

	data, err := syncer.GetData(ctx, fetch)
	if err != nil {
		return nil, grpcError("get data", err)
	}

	out := map[string]any{"locations": recordList(data.Locations)}
	if fetch.Devices {
		out["devices"] = recordList(data.Devices)
	}
	if fetch.Events {
		out["events"] = recordList(data.Events)
	}
	resp, err := structpb.NewStruct(out)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode data: %v", err)
	}
	return resp, nil
}

func (s *service) ListDevices(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	syncer, err := s.synchronizer()
	if err != nil {
		return nil, err
	}

	devices := syncer.Devices()
	readings := make([]Readings, 0, len(devices))
	for _, id := range devices.IDs() {
		readings = append(readings, ReadingsFromRecord(devices[id]))
	}
	return toStruct(map[string]any{"devices": readings})
}

func (s *service) ListMembers(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	syncer, err := s.synchronizer()
	if err != nil {
		return nil, err
	}
	locationID, err := intField(req, "location_id")
	if err != nil {
		return nil, err
	}

	members, err := syncer.Client().Members(ctx, locationID)
	if err != nil {
		return nil, grpcError("list members", err)
	}
	list := make([]any, 0, len(members))
	for _, m := range members {
		list = append(list, map[string]any(m))
	}
	resp, err := structpb.NewStruct(map[string]any{"members": list})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode members: %v", err)
	}
	return resp, nil
}

func (s *service) DeviceCommand(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	syncer, err := s.synchronizer()
	if err != nil {
		return nil, err
	}
	locationID, err := intField(req, "location_id")
	if err != nil {
		return nil, err
	}
	deviceID, err := intField(req, "device_id")
	if err != nil {
		return nil, err
	}
	cmd, err := ParseCommand(req.GetFields()["command"].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	if err := syncer.DeviceCommand(ctx, locationID, deviceID, cmd); err != nil {
		return nil, grpcError("device command", err)
	}
	return &emptypb.Empty{}, nil
}

func grpcError(action string, err error) error {
	var rateErr rate.RateLimitError
	switch {
	case IsAuthError(err):
		return status.Errorf(codes.Unauthenticated, "%s: %v", action, err)
	case errors.As(err, &rateErr):
		return status.Errorf(codes.ResourceExhausted, "%s: %v", action, err)
	case errors.Is(err, ErrInvalidCommand):
		return status.Errorf(codes.InvalidArgument, "%s: %v", action, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Errorf(codes.Internal, "%s: %v", action, err)
	}
}

func intField(req *structpb.Struct, name string) (int64, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	if n, ok := v.GetKind().(*structpb.Value_NumberValue); ok {
		id := int64(n.NumberValue)
		if float64(id) == n.NumberValue {
			return id, nil
		}
	}
	return 0, status.Errorf(codes.InvalidArgument, "%s must be an integer", name)
}

func recordList(m IdentityMap) []any {
	list := make([]any, 0, len(m))
	for _, id := range m.IDs() {
		list = append(list, map[string]any(m[id]))
	}
	return list
}

// toStruct converts a JSON-tagged Go value into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode struct: %v", err)
	}
	return out, nil
}
