package math

// TransformFromPosition is an unrotated, unit scale transform at position.
func TransformFromPosition(position Vec3) *Transform {
	return TransformFromPositionRotationScale(position, NewQuatIdentity(), NewVec3One())
}

func TransformFromPositionRotationScale(position Vec3, rotation Quaternion, scale Vec3) *Transform {
	return &Transform{
		Position: position,
		Rotation: rotation,
		Scale:    scale,
		Local:    NewMat4Identity(),
		IsDirty:  true,
	}
}

func (t *Transform) SetPosition(position Vec3) {
	t.Position = position
	t.IsDirty = true
}

func (t *Transform) SetScale(scale Vec3) {
	t.Scale = scale
	t.IsDirty = true
}

// GetLocal returns scale, then rotation, then translation.
func (t *Transform) GetLocal() Mat4 {
	if t == nil {
		return NewMat4Identity()
	}
	if t.IsDirty {
		s := NewMat4Scale(t.Scale)
		t.Local = s.Mul(t.Rotation.ToMat4()).Mul(NewMat4Translation(t.Position))
		t.IsDirty = false
	}
	return t.Local
}

func (t *Transform) GetWorld() Mat4 {
	if t == nil {
		return NewMat4Identity()
	}
	l := t.GetLocal()
	if t.Parent != nil {
		return l.Mul(t.Parent.GetWorld())
	}
	return l
}
