package main

import (
	"context"
	"net/http"
	_ "net/http/pprof"
	"runtime"
	"time"

	"github.com/graphql-go/handler"
	log "github.com/sirupsen/logrus"

	"VoteBoard/budget"
	"VoteBoard/config"
	"VoteBoard/control"
	"VoteBoard/db"
	"VoteBoard/graphql"
	"VoteBoard/utils"
)

func main() {
	conf := config.GetGlobalConf()
	utils.InitLogger(conf.Log)
	config.OnReload(func(c config.GlobalConfig) {
		utils.SetLogLevel(c.Log.Level)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cleanups []func()
	svc := &graphql.Service{
		PendingTTL:     conf.Vote.PendingTTL,
		PublishTimeout: conf.Vote.PublishTimeout,
	}

	switch conf.Storage.Driver {
	case "memory":
		mem := control.NewMemoryStore()
		svc.Store, svc.Pending, svc.Locker = mem, mem, mem
		log.Warn("using in-memory storage, votes are lost on restart")
	default:
		gdb, err := db.OpenMySQL(conf.DbConfig)
		if err != nil {
			log.WithError(err).Fatal("failed to open database")
		}
		if err := db.Migrate(gdb); err != nil {
			log.WithError(err).Fatal("failed to migrate database")
		}
		store := control.NewStore(gdb)
		svc.Store = store
		// Without redis a single instance serializes users in memory.
		mem := control.NewMemoryStore()
		svc.Pending, svc.Locker = mem, mem
	}

	var publishers utils.Publishers
	if conf.Storage.Redis {
		cli, err := db.NewRedis(ctx, conf.RedisConfig)
		if err != nil {
			log.WithError(err).Fatal("failed to connect redis")
		}
		cleanups = append(cleanups, func() { _ = cli.Close() })

		cache := control.NewVoteCountCache(cli, svc.Store, conf.Vote.CountCacheExpiry)
		svc.Locker = control.NewRedisLocker(cli, conf.Vote.LockTTL, conf.Vote.LockTimeout)
		svc.Pending = control.NewRedisPendingStore(cli)
		svc.Counts = cache
		publishers = append(publishers, cache)

		if conf.Kafka.Brokers != "" {
			// Other instances invalidate their view of the counts from the event stream.
			go func() {
				err := utils.StartKafkaConsumer(ctx, conf.Kafka.Brokers, conf.Kafka.GroupID, conf.Kafka.Topic,
					func(ctx context.Context, e budget.VoteEvent) error {
						return cache.Invalidate(ctx, e.FeatureIDs...)
					})
				if err != nil {
					log.WithError(err).Error("vote event consumer stopped")
				}
			}()
		}
	}

	if conf.Kafka.Brokers != "" {
		kp, err := utils.NewKafkaPublisher(conf.Kafka.Brokers, conf.Kafka.Topic, conf.Kafka.MessageTimeout)
		if err != nil {
			log.WithError(err).Fatal("failed to create kafka producer")
		}
		cleanups = append(cleanups, kp.Close)
		publishers = append(publishers, kp)
	}
	if len(publishers) > 0 {
		svc.Publisher = publishers
	}

	schema, err := graphql.NewSchema(svc)
	if err != nil {
		log.WithError(err).Fatal("failed to create graphql schema")
	}

	if conf.Server.PprofAddr != "" {
		go func() {
			runtime.SetBlockProfileRate(1)
			runtime.SetMutexProfileFraction(1)
			log.WithField("addr", conf.Server.PprofAddr).Info("pprof listening")
			if err := http.ListenAndServe(conf.Server.PprofAddr, nil); err != nil {
				log.WithError(err).Warn("pprof server stopped")
			}
		}()
	}

	h := handler.New(&handler.Config{
		Schema: &schema,
		Pretty: true,
	})
	mux := http.NewServeMux()
	mux.Handle("/graphql", graphql.UserMiddleware(h))

	srv := &http.Server{
		Addr:              conf.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.WithField("addr", conf.Server.Addr).Info("server is running")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	utils.GracefulShutdown(srv, 10*time.Second, append([]func(){cancel}, cleanups...)...)
}
