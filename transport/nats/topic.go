package nats

import (
	"github.com/nats-io/nats.go/micro"

	"github.com/flarexio/mooli"
)

func AddEndpoints(group micro.Group, endpoints mooli.EndpointSet) {
	group.AddEndpoint("chat", ChatHandler(endpoints.Chat))
	group.AddEndpoint("ingest", IngestHandler(endpoints.Ingest))
	group.AddEndpoint("receive", ReceiveHandler(endpoints.Receive))
	group.AddEndpoint("task_status", TaskStatusHandler(endpoints.TaskStatus))
}
