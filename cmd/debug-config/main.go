package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charging-platform/ocpi-node/internal/config"
)

// 配置调试工具
// 打印生效的配置和相关环境变量，用于排查多环境配置覆盖问题
func main() {
	fmt.Println("=== OCPI Node Configuration Check ===")

	fmt.Println("\n--- Environment Variables ---")
	found := false
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, config.EnvPrefix+"_") {
			fmt.Println(mask(kv))
			found = true
		}
	}
	if !found {
		fmt.Printf("(no %s_* variables set)\n", config.EnvPrefix)
	}

	fmt.Println("\n--- Loading Configuration ---")
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\n--- Final Configuration ---")
	fmt.Printf("App Name: %s\n", cfg.App.Name)
	fmt.Printf("Node ID: %s\n", cfg.App.NodeID)
	fmt.Printf("Profile: %s\n", cfg.App.Profile)
	fmt.Printf("Server Address: %s\n", cfg.GetServerAddr())
	fmt.Printf("Redis Address: %s (prefix %q)\n", cfg.Redis.Addr, cfg.Redis.KeyPrefix)
	fmt.Printf("Kafka Enabled: %v\n", cfg.Kafka.Enabled)
	if cfg.Kafka.Enabled {
		fmt.Printf("Kafka Brokers: %v\n", cfg.Kafka.Brokers)
		fmt.Printf("Kafka Topics: events=%s commands=%s\n", cfg.Kafka.EventsTopic, cfg.Kafka.CommandsTopic)
	}
	fmt.Printf("Log Level: %s\n", cfg.Log.Level)
	fmt.Printf("Metrics: enabled=%v addr=%s path=%s\n", cfg.Metrics.Enabled, cfg.GetMetricsAddr(), cfg.Metrics.Path)
	fmt.Printf("WebSocket Path: %s\n", cfg.WebSocket.Path)

	fmt.Println("\n--- OCPI ---")
	fmt.Printf("Party: %s/%s (%s)\n", cfg.OCPI.CountryCode, cfg.OCPI.PartyID, cfg.OCPI.Role)
	fmt.Printf("Versions: %v\n", cfg.OCPI.Versions)
	for _, v := range cfg.OCPI.Versions {
		fmt.Printf("  %s callback base: %s\n", v, cfg.CommandsBaseURL(v))
	}
	fmt.Printf("Command Timeout: %s\n", cfg.OCPI.CommandTimeout)
	fmt.Printf("Request Timeout: %s\n", cfg.OCPI.RequestTimeout)
	fmt.Printf("Listing Limits: default=%d max=%d\n", cfg.OCPI.DefaultLimit, cfg.OCPI.MaxLimit)

	fmt.Println("\n=== Configuration Check Complete ===")
}

// mask 隐藏令牌和密码
func mask(kv string) string {
	key, _, _ := strings.Cut(kv, "=")
	upper := strings.ToUpper(key)
	if strings.Contains(upper, "TOKEN") || strings.Contains(upper, "PASSWORD") {
		return key + "=******"
	}
	return kv
}
