package realtime

// Merge сливает входящую версию записи с локальной по полям.
//
// Для поля с отметкой во входящей карте Modified берется значение со строго большей
// отметкой, при равенстве остается локальное. Поле без отметки во входящей карте
// перезаписывается входящим значением безусловно. Поля, которых нет во входящих
// данных, остаются локальными.
func Merge(local *Record, incoming Record) Record {
	if local == nil {
		return clone(incoming)
	}

	merged := clone(*local)
	merged.ID = incoming.ID

	for field, value := range incoming.Fields {
		incomingAt, stamped := incoming.Modified[field]
		if !stamped {
			// NOTE: authoritative overwrite, can hide a newer concurrent local edit.
			// Kept as is until the channel gets per-field stamps from every client.
			merged.Fields[field] = value
			continue
		}

		localAt, known := local.Modified[field]
		if known && incomingAt <= localAt {
			continue
		}
		merged.Fields[field] = value
		merged.Modified[field] = incomingAt
	}

	return merged
}

func clone(r Record) Record {
	out := Record{
		ID:       r.ID,
		Fields:   make(map[string]any, len(r.Fields)),
		Modified: make(map[string]int64, len(r.Modified)),
	}
	for k, v := range r.Fields {
		out.Fields[k] = v
	}
	for k, v := range r.Modified {
		out.Modified[k] = v
	}
	return out
}
