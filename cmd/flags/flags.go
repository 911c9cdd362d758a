package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/lockbox-recovery-protocol/common"
	"github.com/ruteri/lockbox-recovery-protocol/relay"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureRelayServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *relay.ServerConfig {
	metricsAddr := cCtx.String("metrics-addr")
	enablePprof := cCtx.Bool("pprof")
	drainDuration := time.Duration(cCtx.Int64("drain-seconds")) * time.Second
	mailboxTTL := time.Duration(cCtx.Int64("mailbox-ttl-seconds")) * time.Second

	return &relay.ServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
		MailboxTTL:               mailboxTTL,
		SweepInterval:            time.Minute,
	}
}

var RelayAddrFlag = &cli.StringFlag{
	Name:    "relay-addr",
	Value:   "http://127.0.0.1:8080",
	Usage:   "relay server the device exchanges messages through",
	EnvVars: []string{"LOCKBOX_RELAY_ADDR"},
}

var RelayDomainFlag = &cli.StringFlag{
	Name:  "relay-domain",
	Usage: "discover relay endpoints via DNS SRV instead of --relay-addr",
}

var StateDirFlag = &cli.StringFlag{
	Name:    "state-dir",
	Value:   "~/.lockbox",
	Usage:   "directory holding device identity, peer registry and held shares",
	EnvVars: []string{"LOCKBOX_STATE_DIR"},
}

var ShareStoreFlag = &cli.StringSliceFlag{
	Name:  "share-store",
	Usage: "share store URI (file://, s3://, ipfs://, vault://, mem://); repeat to replicate",
}

var DisplayNameFlag = &cli.StringFlag{
	Name:  "display-name",
	Usage: "human-readable device name announced during pairing",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}
var MailboxTTLFlag = &cli.Int64Flag{
	Name:  "mailbox-ttl-seconds",
	Value: 3600,
	Usage: "seconds an unclaimed relay message survives before the sweeper drops it",
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}
