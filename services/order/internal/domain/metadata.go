package domain

// Слоты метаданных корреляции. Порядок фиксирован.
const (
	SlotAction = iota
	SlotModule
	SlotClientID
	SlotECID

	metadataSlots
)

// MetadataSequence — порядковый номер, с которым метаданные применяются к сессии БД.
const MetadataSequence = 20

// Metadata — метаданные корреляции сессии: action, module, client id, ECID.
type Metadata [metadataSlots]string

// NewMetadata собирает метаданные в фиксированном порядке слотов.
func NewMetadata(action, module, clientID, ecid string) Metadata {
	var md Metadata
	md[SlotAction] = action
	md[SlotModule] = module
	md[SlotClientID] = clientID
	md[SlotECID] = ecid
	return md
}

// Аксессоры слотов.

func (m Metadata) Action() string   { return m[SlotAction] }
func (m Metadata) Module() string   { return m[SlotModule] }
func (m Metadata) ClientID() string { return m[SlotClientID] }
func (m Metadata) ECID() string     { return m[SlotECID] }

// IsZero — метаданные еще не прикреплялись.
func (m Metadata) IsZero() bool {
	return m == Metadata{}
}
