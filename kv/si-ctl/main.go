package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ngaut/log"
	"github.com/pingcap-incubator/tinysi/kv/config"
	"github.com/pingcap-incubator/tinysi/kv/storage"
	"github.com/pingcap-incubator/tinysi/kv/transaction/txn"
	"github.com/pingcap-incubator/tinysi/kv/util"
	"github.com/pingcap-incubator/tinysi/kv/util/engine_util"
	"github.com/spf13/cobra"
)

const txnTableName = "TXN"

var (
	configPath string
	logLevel   string
	dataDir    string
)

// env is what every command works on: the engine of the store and the transaction table on top of it.
type env struct {
	conf    *config.Config
	engines *engine_util.Engines
	store   *txn.Store
}

func openEnv() (*env, error) {
	conf := config.NewDefaultConfig()
	if configPath != "" {
		if err := conf.LoadFile(configPath); err != nil {
			return nil, err
		}
	}
	if dataDir != "" {
		conf.DBPath = dataDir
	}
	if logLevel != "" {
		conf.LogLevel = logLevel
	}
	log.SetLevelByString(conf.LogLevel)
	if conf.Engine != config.EngineMemory {
		if err := util.MustExistDir(filepath.Join(conf.DBPath, "kv")); err != nil {
			return nil, err
		}
	}
	engines, err := engine_util.CreateEngines("kv", conf)
	if err != nil {
		return nil, err
	}
	// a local oracle, si-ctl never begins transactions that are persisted
	tso, err := txn.NewTSO(nil, nil)
	if err != nil {
		engines.Close()
		return nil, err
	}
	region := storage.NewRegion(engines.Kv, txnTableName, txnTableName+"-1", nil, nil, storage.NewRegionOptions(&conf.Pipeline))
	return &env{
		conf:    conf,
		engines: engines,
		store:   txn.NewStore(region, tso, &conf.Txn),
	}, nil
}

func (e *env) close() {
	if err := e.engines.Close(); err != nil {
		log.Errorf("close engine: %v", err)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "si-ctl",
		Short: "Inspect the transactions and tables of a store",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level, overrides the config file")
	root.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "data directory, overrides the config file")
	root.AddCommand(
		newActiveTxnsCommand(),
		newTxnCommand(),
		newStatsCommand(),
	)
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
