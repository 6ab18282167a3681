package vision

import (
	"fmt"
	"image"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Attributes are the demographic estimates for one face.
type Attributes struct {
	Age int
	Sex string // "M" or "F"
}

// AttributePredictor estimates sex and age with the InsightFace genderage model.
type AttributePredictor struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputW       int
	inputH       int
}

func NewAttributePredictor(modelPath string, opts *ort.SessionOptions) (*AttributePredictor, error) {
	inputW, inputH := 96, 96

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(inputH), int64(inputW)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	// [female score, male score, age / 100]
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"data"},
		[]string{"fc1"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create attribute session: %w", err)
	}

	return &AttributePredictor{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputW:       inputW,
		inputH:       inputH,
	}, nil
}

func (p *AttributePredictor) Predict(face image.Image) (*Attributes, error) {
	input := toCHW(face, p.inputW, p.inputH, attrMean, attrStd)

	p.mu.Lock()
	defer p.mu.Unlock()

	copy(p.inputTensor.GetData(), input)
	if err := p.session.Run(); err != nil {
		return nil, fmt.Errorf("run attributes: %w", err)
	}

	data := p.outputTensor.GetData()
	if len(data) < 3 {
		return nil, fmt.Errorf("unexpected output size: %d", len(data))
	}
	return decodeAttributes(data), nil
}

func decodeAttributes(out []float32) *Attributes {
	sex := "F"
	if out[1] > out[0] {
		sex = "M"
	}
	age := int(out[2]*100 + 0.5)
	return &Attributes{Age: max(0, min(age, 100)), Sex: sex}
}

func (p *AttributePredictor) Close() {
	if p.session != nil {
		p.session.Destroy()
	}
	if p.inputTensor != nil {
		p.inputTensor.Destroy()
	}
	if p.outputTensor != nil {
		p.outputTensor.Destroy()
	}
}
