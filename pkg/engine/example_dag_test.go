package engine_test

import (
	"fmt"
	"log"

	"github.com/openfroyo/stacker/pkg/engine"
	"github.com/openfroyo/stacker/pkg/template"
)

// Example demonstrates ordering the resources of a template.
func Example_dependencyGraph() {
	tmpl, err := template.Parse([]byte(`
Resources:
  Data:
    Type: OS::Cinder::Volume
    Properties: {size: 10}
  Logs:
    Type: OS::Cinder::Volume
    Properties: {size: 1}
  DataAttachment:
    Type: OS::Cinder::VolumeAttachment
    Properties:
      instance_uuid: server-1
      volume_id: {Ref: Data}
      mountpoint: /dev/vdb
  LogsAttachment:
    Type: OS::Cinder::VolumeAttachment
    DependsOn: DataAttachment
    Properties:
      instance_uuid: server-1
      volume_id: {Ref: Logs}
      mountpoint: /dev/vdc
`))
	if err != nil {
		log.Fatalf("Failed to parse template: %v", err)
	}

	graph, err := engine.NewDAGBuilder().BuildGraph(tmpl)
	if err != nil {
		log.Fatalf("Failed to build DAG: %v", err)
	}

	for level, names := range graph.Levels {
		fmt.Printf("Level %d: %v\n", level, names)
	}
	fmt.Printf("Delete order: %v\n", graph.ReverseOrder())

	// Output:
	// Level 0: [Data Logs]
	// Level 1: [DataAttachment]
	// Level 2: [LogsAttachment]
	// Delete order: [LogsAttachment DataAttachment Logs Data]
}
