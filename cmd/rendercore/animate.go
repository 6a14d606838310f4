package main

import (
	"math"

	"github.com/Carmen-Shannon/oxy-rendercore/common"
	"github.com/Carmen-Shannon/oxy-rendercore/engine/model"
	"github.com/charmbracelet/log"
)

const (
	propSpinRate = 0.8 // radians per second
	npcSwayRate  = 2.0
	npcSwayAngle = 0.6
)

// sceneAnimator spins the static props in place and sways the second bone of every NPC.
type sceneAnimator struct {
	collection model.Collection
	logger     *log.Logger
	props      []common.Mat4
	npcBones   bool
	elapsed    float32
}

func newSceneAnimator(collection model.Collection, logger *log.Logger) *sceneAnimator {
	a := &sceneAnimator{collection: collection, logger: logger}
	if batch, ok := collection.Batch("Static"); ok {
		if list, ok := collection.Instances(model.FormatStatic).(model.InstanceList); ok {
			start := int(batch.InstanceOffset)
			for _, inst := range list[start : start+int(batch.InstanceCount)] {
				a.props = append(a.props, inst.Model)
			}
		}
	}
	if batch, ok := collection.Batch("NPC"); ok {
		a.npcBones = batch.InstanceCount > 0
	}
	return a
}

func (a *sceneAnimator) tick(dt float32) {
	a.elapsed += dt

	spin := common.RotationY(a.elapsed * propSpinRate)
	for i, base := range a.props {
		if err := a.collection.SetTransform("Static", i, base.Mul(spin)); err != nil {
			a.logger.Error("prop transform", "index", i, "err", err)
			return
		}
	}

	if a.npcBones {
		sway := float32(math.Sin(float64(a.elapsed*npcSwayRate))) * npcSwayAngle
		bones := model.IdentityBones(2)
		rot := common.RotationY(sway)
		copy(bones[model.BoneMatrixFloats:], rot[:])
		if err := a.collection.SetBones("NPC", bones); err != nil {
			a.logger.Error("npc bones", "err", err)
			a.npcBones = false
		}
	}
}
