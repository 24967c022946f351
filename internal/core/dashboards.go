package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// DashboardURL is the HTTP path a plugin dashboard is served under.
func DashboardURL(pluginID, name string) string {
	return "/dashboards/" + pluginID + "/" + name + ".json"
}

// DashboardsMap materializes dashboard content keyed by DashboardURL.
func DashboardsMap(plugins []Plugin) map[string][]byte {
	result := make(map[string][]byte)
	for _, plugin := range plugins {
		id := plugin.Manifest().PluginID
		for _, dash := range plugin.Dashboards() {
			result[DashboardURL(id, dash.Name)] = dash.JSON
		}
	}
	return result
}

// DashboardPaths returns the keys of dashboards in sorted order.
func DashboardPaths(dashboards map[string][]byte) []string {
	paths := make([]string, 0, len(dashboards))
	for path := range dashboards {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// WriteDashboards writes dashboards under dir/<plugin>/<name>.json for
// Grafana file provisioning. An empty dir is a no-op.
func WriteDashboards(dir string, plugins []Plugin) error {
	if dir == "" {
		return nil
	}

	for _, plugin := range plugins {
		pluginDir := filepath.Join(dir, plugin.Manifest().PluginID)
		dashboards := plugin.Dashboards()
		if len(dashboards) == 0 {
			continue
		}
		if err := os.MkdirAll(pluginDir, 0o755); err != nil {
			return fmt.Errorf("create dashboard dir: %w", err)
		}
		for _, dash := range dashboards {
			path := filepath.Join(pluginDir, dash.Name+".json")
			if err := os.WriteFile(path, dash.JSON, 0o644); err != nil {
				return fmt.Errorf("write dashboard %s: %w", path, err)
			}
		}
	}

	return nil
}
