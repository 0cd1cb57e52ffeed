/*
Package log provides structured logging for the engine using zerolog.

All components obtain a logger through log.WithComponent(name) rather than
constructing their own zerolog.Logger, so every log line carries a
component field and shares one global level/output configuration set via
log.Init.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	storeLog := log.WithComponent("mvcc-store")
	storeLog.Debug().Str("tx_id", txID).Msg("begin")

	schedLog := log.WithComponent("scheduler")
	schedLog.Warn().Err(err).Int("attempt", n).Msg("commit conflict, retrying")

Until Init is called, Logger defaults to a console writer on stdout so
tests and short-lived tools don't need to configure logging explicitly.
*/
package log
