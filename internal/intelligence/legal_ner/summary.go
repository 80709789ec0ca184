package legal_ner

// EntityTypeInfo carries the display metadata of an entity type.
type EntityTypeInfo struct {
	Type EntityType `json:"type"`
	Name string     `json:"name"`
	Icon string     `json:"icon"`
}

var entityTypeInfo = map[EntityType]EntityTypeInfo{
	TypePerson:       {Type: TypePerson, Name: "Kişiler", Icon: "fas fa-user"},
	TypeOrganization: {Type: TypeOrganization, Name: "Organizasyonlar", Icon: "fas fa-building"},
	TypeLocation:     {Type: TypeLocation, Name: "Lokasyonlar", Icon: "fas fa-map-marker-alt"},
	TypeMoney:        {Type: TypeMoney, Name: "Para Birimleri", Icon: "fas fa-money-bill"},
	TypeDateTime:     {Type: TypeDateTime, Name: "Tarihler", Icon: "fas fa-calendar"},
	TypeLegalRef:     {Type: TypeLegalRef, Name: "Hukuki Atıf", Icon: "fas fa-scale-balanced"},
	TypePhoneEmail:   {Type: TypePhoneEmail, Name: "İletişim", Icon: "fas fa-envelope"},
}

// DisplayInfo returns the display metadata for t.  Unknown types fall back
// to the raw type name with a generic icon.
func DisplayInfo(t EntityType) EntityTypeInfo {
	if info, ok := entityTypeInfo[t]; ok {
		return info
	}
	return EntityTypeInfo{Type: t, Name: string(t), Icon: "fas fa-tag"}
}

// AllDisplayInfo lists display metadata in EntityTypes order.
func AllDisplayInfo() []EntityTypeInfo {
	out := make([]EntityTypeInfo, 0, len(EntityTypes))
	for _, t := range EntityTypes {
		out = append(out, entityTypeInfo[t])
	}
	return out
}

// Summarize counts entities per type.
func Summarize(entities []Entity) map[EntityType]int {
	summary := make(map[EntityType]int)
	for _, e := range entities {
		summary[e.Type]++
	}
	return summary
}
