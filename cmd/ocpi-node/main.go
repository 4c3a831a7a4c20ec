package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charging-platform/ocpi-node/internal/api"
	"github.com/charging-platform/ocpi-node/internal/cache"
	"github.com/charging-platform/ocpi-node/internal/command"
	"github.com/charging-platform/ocpi-node/internal/config"
	"github.com/charging-platform/ocpi-node/internal/domain/events"
	"github.com/charging-platform/ocpi-node/internal/domain/ocpi"
	"github.com/charging-platform/ocpi-node/internal/domain/validation"
	"github.com/charging-platform/ocpi-node/internal/listing"
	"github.com/charging-platform/ocpi-node/internal/logger"
	"github.com/charging-platform/ocpi-node/internal/message"
	"github.com/charging-platform/ocpi-node/internal/metrics"
	"github.com/charging-platform/ocpi-node/internal/storage"
	"github.com/charging-platform/ocpi-node/internal/store"
	"github.com/charging-platform/ocpi-node/internal/transport/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	log, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log.Info().Str("node_id", cfg.App.NodeID).Str("profile", cfg.App.Profile).Msg("Logger initialized")

	validator := validation.NewValidator()
	self, err := validator.ValidateParty(cfg.OCPI.CountryCode, cfg.OCPI.PartyID)
	if err != nil {
		log.Fatalf("Invalid own party identification %s/%s: %v", cfg.OCPI.CountryCode, cfg.OCPI.PartyID, err)
	}
	versions := supportedVersions(cfg.OCPI.Versions, log)

	// 3. 指标
	m := metrics.New(prometheus.DefaultRegisterer)

	// 4. 对端地址存储，Redis + 本地LRU
	backend, err := storage.NewRedisStorage(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to initialize endpoint storage: %v", err)
	}
	endpointCache := cache.NewLRUCache[string](&cache.CacheConfig{
		MaxSize:         cfg.Cache.MaxSize,
		DefaultTTL:      cfg.Cache.TTL,
		CleanupInterval: cfg.Cache.CleanupInterval,
	})
	if err := endpointCache.Start(); err != nil {
		log.Fatalf("Failed to start endpoint cache: %v", err)
	}
	endpoints := storage.NewCachedStorage(backend, endpointCache)
	log.Info().Str("addr", cfg.Redis.Addr).Msg("Endpoint storage initialized")

	// 5. 事件推送
	hub := websocket.NewHub(websocket.HubConfigFrom(cfg.WebSocket), log, m)
	publishers := []command.EventPublisher{hub}

	var producer *message.KafkaProducer
	if cfg.Kafka.Enabled {
		producer, err = message.NewKafkaProducer(cfg.Kafka, log, m)
		if err != nil {
			log.Fatalf("Failed to initialize Kafka producer: %v", err)
		}
		publishers = append(publishers, producer)
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.EventsTopic).Msg("Kafka producer initialized")
	}

	// 6. 指令关联表与分发器
	registry := command.NewRegistry(&command.RegistryConfig{DefaultTimeout: cfg.OCPI.CommandTimeout}, log)
	dispatcherConfig := command.DefaultDispatcherConfig()
	dispatcherConfig.From = self
	dispatcherConfig.Token = cfg.OCPI.Token
	dispatcherConfig.RequestTimeout = cfg.OCPI.RequestTimeout

	dispatcher := command.NewDispatcher(dispatcherConfig, registry, endpoints, nil, log,
		command.NewMetricsObserver(m, registry.Pending),
		command.NewLoggingObserver(log),
		command.NewEventObserver(events.NewEventFactory(cfg.App.NodeID), log, publishers...),
	)
	initiator := command.NewInitiator(dispatcher, nil, func(v ocpi.Version) string {
		return cfg.CommandsBaseURL(string(v))
	})
	log.Info().Dur("command_timeout", cfg.OCPI.CommandTimeout).Msg("Command dispatcher initialized")

	// 7. Kafka 指令请求
	var consumer *message.KafkaConsumer
	if cfg.Kafka.Enabled {
		consumer, err = message.NewKafkaConsumer(cfg.Kafka, log, m)
		if err != nil {
			log.Fatalf("Failed to initialize Kafka consumer: %v", err)
		}
		if err := consumer.Start(commandHandler(initiator, validator, log)); err != nil {
			log.Fatalf("Failed to start Kafka consumer: %v", err)
		}
		log.Info().Str("group", cfg.Kafka.ConsumerGroup).Str("topic", cfg.Kafka.CommandsTopic).Msg("Kafka consumer starting")
	}

	// 8. HTTP 服务
	srv := api.NewServer(api.Options{
		Limits:        listing.Limits{Default: cfg.OCPI.DefaultLimit, Max: cfg.OCPI.MaxLimit},
		MaxBodyBytes:  int64(cfg.Server.MaxBodyBytes),
		Versions:      versions,
		WebSocketPath: cfg.WebSocket.Path,
		MaxWait:       waitLimit(cfg.Server.WriteTimeout),
	}, api.Dependencies{
		Store:      store.New(),
		Dispatcher: dispatcher,
		Initiator:  initiator,
		Endpoints:  endpoints,
		Hub:        hub,
		Metrics:    m,
		Logger:     log,
	})
	server := &http.Server{
		Addr:         cfg.GetServerAddr(),
		Handler:      srv.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		log.Info().Str("addr", server.Addr).Msg("API server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.GetMetricsAddr(), Handler: mux}
		go func() {
			log.Info().Str("addr", metricsServer.Addr).Str("path", cfg.Metrics.Path).Msg("Metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("Metrics server failed: %v", err)
			}
		}()
	}

	log.Info().Str("party", self.String()).Msg("OCPI node started")

	// 9. 优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// 先终结所有等待中的指令，等待者收到 TIMEOUT
	registry.Close()
	log.Info().Msg("Correlation registry closed")

	if consumer != nil {
		if err := consumer.Close(); err != nil {
			log.Errorf("Error closing Kafka consumer: %v", err)
		}
	}
	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("Error shutting down API server: %v", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.Errorf("Error shutting down metrics server: %v", err)
		}
	}
	if err := hub.Shutdown(ctx); err != nil {
		log.Errorf("Error shutting down WebSocket hub: %v", err)
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Errorf("Error closing Kafka producer: %v", err)
		}
	}
	if err := endpointCache.Stop(); err != nil {
		log.Errorf("Error stopping endpoint cache: %v", err)
	}
	if err := endpoints.Close(); err != nil {
		log.Errorf("Error closing endpoint storage: %v", err)
	}

	log.Info().Msg("OCPI node stopped")
	_ = log.Close()
}

// supportedVersions 解析配置中的协议版本，忽略无法识别的项
func supportedVersions(raw []string, log *logger.Logger) []ocpi.Version {
	versions := make([]ocpi.Version, 0, len(raw))
	for _, s := range raw {
		v, ok := ocpi.ParseVersion(strings.TrimSpace(s))
		if !ok {
			log.Warnf("Ignoring unsupported OCPI version %q", s)
			continue
		}
		versions = append(versions, v)
	}
	return versions
}

// waitLimit 同步等待异步结果的上限，留出一秒写响应
func waitLimit(writeTimeout time.Duration) time.Duration {
	if writeTimeout > 2*time.Second {
		return writeTimeout - time.Second
	}
	return writeTimeout / 2
}

// commandHandler 把Kafka中的指令请求转交给发起器
func commandHandler(initiator *command.Initiator, validator *validation.Validator, log *logger.Logger) message.CommandHandler {
	return func(ctx context.Context, req *message.CommandRequest) error {
		target, err := validator.ValidateParty(req.CountryCode, req.PartyID)
		if err != nil {
			return fmt.Errorf("invalid target party %s/%s: %w", req.CountryCode, req.PartyID, err)
		}
		commandType, ok := ocpi.ParseCommandType(req.Command)
		if !ok {
			return fmt.Errorf("unknown command %q", req.Command)
		}
		version, err := validator.ValidateVersion(req.Version)
		if err != nil {
			return fmt.Errorf("unsupported version %q: %w", req.Version, err)
		}

		cmd, res, err := initiator.Initiate(ctx, command.Request{
			Target:    target,
			Version:   version,
			Type:      commandType,
			Payload:   req.Payload,
			CommandID: ocpi.CommandID(req.CommandID),
			Timeout:   time.Duration(req.Timeout) * time.Second,
		})
		if err != nil {
			return err
		}
		log.Debug().
			Str("command_id", string(cmd.ID())).
			Str("ack", string(res.Ack.Result)).
			Msg("Command from Kafka dispatched")
		return nil
	}
}
