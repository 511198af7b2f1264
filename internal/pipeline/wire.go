package pipeline

const (
	TaskASR         = "asr"
	TaskTranslation = "translation"
	TaskTTS         = "tts"
)

type Request struct {
	PipelineTasks []Task    `json:"pipelineTasks"`
	InputData     InputData `json:"inputData"`
}

type Task struct {
	TaskType string     `json:"taskType"`
	Config   TaskConfig `json:"config"`
}

type TaskConfig struct {
	Language     Language `json:"language"`
	ServiceID    string   `json:"serviceId"`
	AudioFormat  string   `json:"audioFormat,omitempty"`
	SamplingRate int      `json:"samplingRate,omitempty"`
	Gender       string   `json:"gender,omitempty"`
}

type Language struct {
	SourceLanguage string `json:"sourceLanguage"`
	TargetLanguage string `json:"targetLanguage,omitempty"`
}

type InputData struct {
	Audio []AudioContent `json:"audio"`
}

type AudioContent struct {
	AudioContent string `json:"audioContent"`
}

type Response struct {
	PipelineResponse []TaskResponse `json:"pipelineResponse"`
}

type TaskResponse struct {
	TaskType string         `json:"taskType,omitempty"`
	Output   []TextOutput   `json:"output,omitempty"`
	Audio    []AudioContent `json:"audio,omitempty"`
}

type TextOutput struct {
	Source string `json:"source,omitempty"`
	Target string `json:"target,omitempty"`
}

// NewRequest builds the recognition, translation and synthesis request for
// base64 encoded audio.
func (c Config) NewRequest(base64Audio string) *Request {
	return &Request{
		PipelineTasks: []Task{
			{
				TaskType: TaskASR,
				Config: TaskConfig{
					Language:     Language{SourceLanguage: c.SourceLanguage},
					ServiceID:    c.ASR.ServiceID,
					AudioFormat:  c.ASR.AudioFormat,
					SamplingRate: c.ASR.SamplingRate,
				},
			},
			{
				TaskType: TaskTranslation,
				Config: TaskConfig{
					Language:  Language{SourceLanguage: c.SourceLanguage, TargetLanguage: c.TargetLanguage},
					ServiceID: c.Translation.ServiceID,
				},
			},
			{
				TaskType: TaskTTS,
				Config: TaskConfig{
					Language:     Language{SourceLanguage: c.TargetLanguage},
					ServiceID:    c.TTS.ServiceID,
					Gender:       c.TTS.Gender,
					SamplingRate: c.TTS.SamplingRate,
				},
			},
		},
		InputData: InputData{
			Audio: []AudioContent{{AudioContent: base64Audio}},
		},
	}
}

// Transcription is the recognised source-language text, or "" when the
// recognition stage returned nothing.
func (r *Response) Transcription() string {
	if r == nil || len(r.PipelineResponse) < 1 || len(r.PipelineResponse[0].Output) < 1 {
		return ""
	}
	return r.PipelineResponse[0].Output[0].Source
}

func (r *Response) Translation() string {
	if r == nil || len(r.PipelineResponse) < 2 || len(r.PipelineResponse[1].Output) < 1 {
		return ""
	}
	return r.PipelineResponse[1].Output[0].Target
}

// SynthesizedAudio is the base64 audio of the spoken translation.
func (r *Response) SynthesizedAudio() string {
	if r == nil || len(r.PipelineResponse) < 3 || len(r.PipelineResponse[2].Audio) < 1 {
		return ""
	}
	return r.PipelineResponse[2].Audio[0].AudioContent
}
