// Package redisexport publishes worker pool statistics to Redis.
//
// Each process writes its snapshot into the hash "<key>:<name>:stats" and
// adds its name to the set "<key>:instances". Both expire after the
// configured TTL, so processes that stop publishing disappear on their own.
//
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	exp, err := redisexport.New(redisexport.Config{
//		Client: rdb,
//		Key:    "taskpool",
//		Name:   "ingest-1",
//	}, pool)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := exp.Start(ctx, scheduler, 5*time.Second); err != nil {
//		log.Fatal(err)
//	}
//
// Only snapshots are exported; queued tasks are never persisted.
package redisexport
