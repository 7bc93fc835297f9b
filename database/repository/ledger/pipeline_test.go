package ledgerRepo

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"
)

func TestUnreflectedChargesPipeline(t *testing.T) {
	p := unreflectedChargesPipeline("log-5", 50)

	if len(p) != 6 {
		t.Fatalf("pipeline stages = %d, want 6", len(p))
	}
	first, ok := p[0][0].Value.(bson.M)
	if !ok {
		t.Fatalf("first stage value = %T, want bson.M", p[0][0].Value)
	}
	if got, ok := first["id"].(bson.M); !ok || got["$gt"] != "log-5" {
		t.Errorf("match id = %v, want $gt log-5", first["id"])
	}
	if p[2][0].Key != "$lookup" {
		t.Errorf("stage 3 = %s, want $lookup", p[2][0].Key)
	}
	if last := p[len(p)-1][0]; last.Key != "$limit" || last.Value != 50 {
		t.Errorf("last stage = %v, want $limit 50", last)
	}
}

func TestUnreflectedChargesPipelineNoLimit(t *testing.T) {
	p := unreflectedChargesPipeline("", 0)
	if len(p) != 5 {
		t.Errorf("pipeline stages = %d, want 5", len(p))
	}
	first := p[0][0].Value.(bson.M)
	if _, ok := first["id"]; ok {
		t.Error("empty afterID should not filter on id")
	}
}
