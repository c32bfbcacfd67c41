package workflow

// Node layout constants for the engine canvas
const (
	startX = 240
	stepX  = 220
	laneY  = 300
)

// Compile turns an abstract spec into a deployable engine document.
// creds maps service IDs to engine credential IDs referenced by nodes.
//
// The trigger falls back to a manual trigger when its kind has no
// builder. Actions with no builder are skipped without error, so a
// spec containing unknown action kinds compiles to a shorter chain.
// Callers that want strictness run Spec.Validate first.
func Compile(spec *Spec, creds map[string]string) (*Document, error) {
	doc := NewDocument(spec.Name)

	x := startX

	buildTrigger, ok := triggerBuilders[spec.Trigger.Kind]
	if !ok {
		buildTrigger = buildManualTrigger
	}
	trigger := buildTrigger(spec.Trigger, creds)
	trigger.Position = [2]int{x, laneY}
	doc.Nodes = append(doc.Nodes, trigger)
	x += stepX

	for _, action := range spec.Actions {
		build, ok := actionBuilders[action.Kind]
		if !ok {
			continue
		}
		node := build(action, creds)
		node.Position = [2]int{x, laneY}
		doc.Nodes = append(doc.Nodes, node)
		x += stepX
	}

	doc.Connections = chainNodes(doc.Nodes)
	return doc, nil
}
