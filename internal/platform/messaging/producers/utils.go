package producers

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// createKafkaTopicIfNotExists creates the topic when it is missing, retrying
// partition reads to ride out broker startup races.
func createKafkaTopicIfNotExists(conn *kafka.Conn, topicName string, numPartitions, replicationFactor int, log *slog.Logger) error {
	var partitions []kafka.Partition
	var err error

	for i := 0; i < 5; i++ {
		partitions, err = conn.ReadPartitions(topicName)
		if err == nil {
			break
		}
		log.Warn("Failed to read partitions, retrying", "topic", topicName, "attempt", i+1, "error", err)
		time.Sleep(2 * time.Second)
	}

	if len(partitions) > 0 {
		return nil
	}

	log.Info("Kafka topic does not exist, creating it", "topic", topicName)
	topicConfig := kafka.TopicConfig{
		Topic:             topicName,
		NumPartitions:     numPartitions,
		ReplicationFactor: replicationFactor,
	}
	if topicConfig.NumPartitions == 0 {
		topicConfig.NumPartitions = 1
	}
	if topicConfig.ReplicationFactor == 0 {
		topicConfig.ReplicationFactor = 1
	}

	if creationErr := conn.CreateTopics(topicConfig); creationErr != nil {
		return fmt.Errorf("failed to create kafka topic %s: %w", topicName, creationErr)
	}
	log.Info("Created Kafka topic", "topic", topicName)
	return nil
}
