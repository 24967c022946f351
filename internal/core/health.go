package core

import (
	"context"

	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// HealthService reports plugin health over grpc.health.v1. The empty
// service name aggregates all plugins; a plugin ID or one of its gRPC
// service names selects that plugin.
type HealthService struct {
	healthpb.UnimplementedHealthServer

	plugins []Plugin
}

func NewHealthService(plugins []Plugin) *HealthService {
	return &HealthService{plugins: plugins}
}

func (h *HealthService) Check(_ context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	name := req.GetService()
	if name == "" {
		for _, p := range h.plugins {
			if p.Health() == HealthError {
				return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
			}
		}
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
	}

	p := h.find(name)
	if p == nil {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", name)
	}
	return &healthpb.HealthCheckResponse{Status: servingStatus(p.Health())}, nil
}

func (h *HealthService) find(name string) Plugin {
	for _, p := range h.plugins {
		manifest := p.Manifest()
		if manifest.PluginID == name {
			return p
		}
		for _, svc := range manifest.Services {
			if svc == name {
				return p
			}
		}
	}
	return nil
}

func servingStatus(health HealthStatus) healthpb.HealthCheckResponse_ServingStatus {
	if health == HealthError {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}
