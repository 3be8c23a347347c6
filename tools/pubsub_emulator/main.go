// Creates the event topic (and a subscription to read it) on a local pubsub emulator
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/airbusgeo/cdse-downloader/service/log"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func main() {
	ctx := context.Background()

	projectID := flag.String("project", "cdse-emulator", "emulator project")
	host := flag.String("host", "localhost:8085", "emulator host")
	topic := flag.String("topic", "cdse-events", "event topic (see downloader -event-topic)")
	subscription := flag.String("subscription", "cdse-events", "subscription to the event topic")
	flag.Parse()

	os.Setenv("PUBSUB_EMULATOR_HOST", *host)

	log.Logger(ctx).Info("New client for project " + *projectID)
	client, err := pubsub.NewClient(ctx, *projectID)
	if err != nil {
		log.Fatal("pubsub.NewClient", zap.Error(err))
	}
	defer client.Close()

	log.Logger(ctx).Info("Create Topic : " + *topic)
	t, err := client.CreateTopic(ctx, *topic)
	if status.Code(err) == codes.AlreadyExists {
		t, err = client.Topic(*topic), nil
	}
	if err != nil {
		log.Fatal("pubsub.CreateTopic", zap.Error(err))
	}

	log.Logger(ctx).Info("Create Subscription : " + *subscription)
	if _, err = client.CreateSubscription(ctx, *subscription, pubsub.SubscriptionConfig{
		Topic:       t,
		AckDeadline: 10 * time.Second,
	}); err != nil && status.Code(err) != codes.AlreadyExists {
		log.Fatal("pubsub.CreateSubscription", zap.Error(err))
	}

	log.Logger(ctx).Info("Done!")
}
