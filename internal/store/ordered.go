package store

// ordered 保持插入顺序的集合，替换已有键时位置不变
type ordered[T any] struct {
	keys  []string
	items map[string]T
}

func newOrdered[T any]() *ordered[T] {
	return &ordered[T]{items: make(map[string]T)}
}

func (o *ordered[T]) get(key string) (T, bool) {
	v, ok := o.items[key]
	return v, ok
}

// put 返回是否为新增
func (o *ordered[T]) put(key string, v T) bool {
	_, exists := o.items[key]
	if !exists {
		o.keys = append(o.keys, key)
	}
	o.items[key] = v
	return !exists
}

func (o *ordered[T]) remove(key string) bool {
	if _, ok := o.items[key]; !ok {
		return false
	}
	delete(o.items, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
	return true
}

func (o *ordered[T]) len() int {
	return len(o.keys)
}

func (o *ordered[T]) each(fn func(T)) {
	for _, k := range o.keys {
		fn(o.items[k])
	}
}
