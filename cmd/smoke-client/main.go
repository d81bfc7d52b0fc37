package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"ecotrack.org/internal/notify"
	"ecotrack.org/internal/session"
	"ecotrack.org/internal/waste"
	"ecotrack.org/internal/waste/remote"
)

// Exercises the full client pipeline against a running api instance:
// register, login, record CRUD, explicit credential rotation, statistics.
// With ECOTRACK_REDIS_ADDR set, session events are published to Redis so a
// companion consumer can observe the run.
func main() {
	base := os.Getenv("ECOTRACK_API_ADDR")
	if base == "" {
		base = "http://localhost:8080"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var copts []session.ControllerOption
	if addr := os.Getenv("ECOTRACK_REDIS_ADDR"); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		copts = append(copts, session.WithNotifier(notify.NewRedisPublisher(rdb)))
	}

	store := session.NewStore(nil)
	d := session.NewDispatcher(base, store)
	c := session.NewController(d, store, nil, copts...)

	suffix := rand.Int63()
	email := fmt.Sprintf("smoke-%d@example.com", suffix)
	password := fmt.Sprintf("smoke-pass-%d", suffix)

	err := d.DoPublic(ctx, http.MethodPost, "/v1/auth/register", map[string]string{
		"email":    email,
		"username": fmt.Sprintf("smoke-%d", suffix),
		"password": password,
	}, nil)
	if err != nil {
		log.Fatalf("register against %s: %v", base, err)
	}

	user, err := c.Login(ctx, email, password)
	if err != nil {
		log.Fatalf("login: %v", err)
	}
	defer c.Logout(context.Background())

	client := remote.NewClient(d)

	rec, err := client.Create(ctx, waste.Details{
		Type:     waste.TypePlastic,
		Quantity: 2.5,
		Location: waste.Location{Label: "smoke depot"},
	})
	if err != nil {
		log.Fatalf("create record: %v", err)
	}
	if rec.Status != waste.StatusPending {
		log.Fatalf("new record status %s, want pending", rec.Status)
	}

	if rec, err = client.Update(ctx, rec.ID, waste.Details{Type: waste.TypePlastic, Quantity: 3}); err != nil {
		log.Fatalf("update record: %v", err)
	}
	if rec.Quantity != 3 {
		log.Fatalf("update not applied: quantity %v", rec.Quantity)
	}

	// Rotate credentials mid-session; subsequent calls must keep working.
	if err := c.Refresh(ctx); err != nil {
		log.Fatalf("refresh: %v", err)
	}

	mine, err := client.List(ctx, remote.Query{Type: waste.TypePlastic})
	if err != nil {
		log.Fatalf("list records: %v", err)
	}
	if len(mine) == 0 {
		log.Fatal("list returned no records after create")
	}

	stats, err := client.Statistics(ctx, "week")
	if err != nil {
		log.Fatalf("statistics: %v", err)
	}

	if err := client.Delete(ctx, rec.ID); err != nil {
		log.Fatalf("delete record: %v", err)
	}

	fmt.Printf("smoke test passed: user=%s record=%s records_this_week=%d\n",
		user.ID, rec.ID, stats.TotalRecords)
}
